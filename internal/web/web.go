// Package web holds the chat page served at GET /.
package web

import (
	"embed"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

// PageData is passed to the chat page template.
type PageData struct {
	Title    string
	Model    string
	Endpoint string
}

// Templates parses the embedded page templates.
func Templates() (*template.Template, error) {
	return template.ParseFS(templateFS, "templates/*.html")
}
