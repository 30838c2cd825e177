package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var reportTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
		"humanize": humanize,
	}

	templateContent, err := templateFS.ReadFile("templates/report.html")
	if err != nil {
		reportTemplate = template.Must(template.New("report").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}
	reportTemplate = template.Must(template.New("report").Funcs(funcMap).Parse(string(templateContent)))
}

// TemplateData holds data for report template rendering
type TemplateData struct {
	Title       string
	Type        string
	GeneratedBy string
	GeneratedAt time.Time
	PeriodStart time.Time
	PeriodEnd   time.Time
	Sections    []Section
}

// RenderReportHTML renders the report template with provided data
func RenderReportHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const fallbackTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>{{.Title}}</title></head>
<body>
  <h1>{{.Title}}</h1>
  <p>{{humanize .Type}} | {{formatDate .PeriodStart "Jan 2, 2006"}} - {{formatDate .PeriodEnd "Jan 2, 2006"}}</p>
  {{range .Sections}}<h2>{{.Heading}}</h2>{{range .Pairs}}<p>{{.Label}}: {{.Value}}</p>{{end}}{{end}}
</body>
</html>`
