package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-paywall-counter/internal/repo"
)

var recordsJSON bool

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Inspect stored payment records",
	Long: `Read-only access to the configured record store, bypassing the HTTP API
and its password.

Examples:
  paywall records count
  paywall records list --json`,
}

var recordsCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of payments",
	Args:  cobra.NoArgs,
	RunE:  runRecordsCount,
}

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every payment record in insertion order",
	Args:  cobra.NoArgs,
	RunE:  runRecordsList,
}

func init() {
	recordsListCmd.Flags().BoolVar(&recordsJSON, "json", false, "print the records as the /api/urls JSON array")
	recordsCmd.AddCommand(recordsCountCmd)
	recordsCmd.AddCommand(recordsListCmd)
}

func openStore(cmd *cobra.Command) (repo.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := repo.Open(contextOf(cmd), cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	return store, nil
}

func runRecordsCount(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.Count(contextOf(cmd))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), n)
	return nil
}

func runRecordsList(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	recs, err := store.All(contextOf(cmd))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if recordsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPAID AT\tFIRST VISIT")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%t\n", r.ID, r.CreatedAt().Format(time.RFC3339), r.FirstVisit)
	}
	return tw.Flush()
}
