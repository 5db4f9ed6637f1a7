package export

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"sort"
	"strings"
	"time"

	"github.com/FireBladesAdi/dental-form-pro/internal/intake"
)

// Answer is one rendered label/value pair.
type Answer struct {
	Label string
	Value string
}

// Answers lists a submission's responses in the form's field order, or by
// label when the field order was not recorded.
func Answers(sub intake.Submission) []Answer {
	labels := sub.Fields
	if len(labels) == 0 {
		labels = make([]string, 0, len(sub.Responses))
		for label := range sub.Responses {
			labels = append(labels, label)
		}
		sort.Strings(labels)
	}
	out := make([]Answer, 0, len(labels))
	for _, label := range labels {
		value, ok := sub.Responses[label]
		if !ok {
			continue
		}
		out = append(out, Answer{Label: label, Value: value})
	}
	return out
}

// Render produces the plain-text copy staff paste into practice software.
func Render(sub intake.Submission) string {
	var b strings.Builder
	fmt.Fprintf(&b, "PATIENT: %s\nFORM: %s\n---", sub.PatientName, sub.FormName)
	for _, a := range Answers(sub) {
		fmt.Fprintf(&b, "\n%s: %s", a.Label, a.Value)
	}
	return b.String()
}

var printTemplate = template.Must(template.New("submission").Funcs(template.FuncMap{
	"formatMillis": func(ms int64) string {
		return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04 MST")
	},
}).Parse(printHTML))

type printData struct {
	Clinic  string
	Sub     intake.Submission
	Answers []Answer
}

// RenderHTML produces a printable page for the submission.
func RenderHTML(clinic string, sub intake.Submission) (string, error) {
	var buf bytes.Buffer
	if err := printTemplate.Execute(&buf, printData{Clinic: clinic, Sub: sub, Answers: Answers(sub)}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Export renders sub in the requested format. PDF output needs a headless
// Chrome on the host.
func Export(ctx context.Context, clinic string, sub intake.Submission, format Format) (*Result, error) {
	switch format {
	case FormatText, "":
		return &Result{
			Data:     []byte(Render(sub)),
			Filename: sub.ID + ".txt",
			MimeType: "text/plain; charset=utf-8",
		}, nil
	case FormatHTML:
		html, err := RenderHTML(clinic, sub)
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		return &Result{
			Data:     []byte(html),
			Filename: sub.ID + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		html, err := RenderHTML(clinic, sub)
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		return exportPDF(ctx, html, sub.ID+".pdf")
	default:
		return nil, ErrUnsupportedFormat
	}
}

const printHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Sub.FormName}} - {{.Sub.PatientName}}</title>
<style>
  body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif; margin: 2cm; color: #1a1a1a; }
  h1 { font-size: 20pt; margin-bottom: 0; }
  .meta { color: #666; margin-bottom: 1.5em; }
  dt { font-weight: 600; margin-top: 0.8em; }
  dd { margin-left: 0; white-space: pre-wrap; }
</style>
</head>
<body>
<h1>{{.Sub.PatientName}}</h1>
<div class="meta">{{.Sub.FormName}} &middot; {{.Clinic}} &middot; {{formatMillis .Sub.Timestamp}}</div>
<dl>
{{- range .Answers}}
  <dt>{{.Label}}</dt>
  <dd>{{.Value}}</dd>
{{- end}}
</dl>
</body>
</html>
`
