// Package templates renders the markdown body of generated artifacts.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"

	"plcgate/internal/domain"
)

//go:embed *.md.tmpl
var files embed.FS

var parsed = template.Must(template.New("artifacts").ParseFS(files, "*.md.tmpl"))

type view struct {
	Key     string
	Summary string
	Stage   string
}

// Render returns the document for kind, filled from issue. Output depends only
// on the issue's key, summary, and stage.
func Render(kind domain.ArtifactKind, issue domain.Issue) (string, error) {
	name := string(kind) + ".md.tmpl"
	if parsed.Lookup(name) == nil {
		return "", fmt.Errorf("no template for artifact kind %q", kind)
	}
	v := view{Key: issue.Key, Summary: issue.Summary, Stage: string(issue.PLCStage)}
	if v.Key == "" {
		v.Key = "N/A"
	}
	if v.Stage == "" {
		v.Stage = "N/A"
	}
	var buf bytes.Buffer
	if err := parsed.ExecuteTemplate(&buf, name, v); err != nil {
		return "", fmt.Errorf("render %s: %w", kind, err)
	}
	return buf.String(), nil
}
