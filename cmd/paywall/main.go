// Command paywall runs the pay-$1 counter server and its record tooling.
//
// @title           Paywall Counter API
// @version         1.0
// @description     Pay $1, get a token URL, learn how many people have paid.
// @BasePath        /
package main

import (
	"os"

	"github.com/tbourn/go-paywall-counter/internal/cli"
)

// Version is stamped at build time via -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	if err := cli.Execute(Version); err != nil {
		os.Exit(1)
	}
}
