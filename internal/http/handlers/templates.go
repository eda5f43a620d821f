package handlers

import (
	"embed"
	"html/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Page template names, as passed to gin.Context.HTML.
const (
	tmplHome     = "home.tmpl"
	tmplThankYou = "thankyou.tmpl"
	tmplInfo     = "info.tmpl"
)

// Templates parses the embedded HTML pages. The router installs the result
// with gin.Engine.SetHTMLTemplate.
func Templates() *template.Template {
	return template.Must(template.New("pages").ParseFS(templateFS, "templates/*.tmpl"))
}
