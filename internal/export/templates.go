package export

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var invoiceTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
		"money": FormatCents,
	}

	templateContent, err := templateFS.ReadFile("templates/invoice.html")
	if err != nil {
		// Fallback to built-in template if file not found
		invoiceTemplate = template.Must(template.New("invoice").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	invoiceTemplate = template.Must(template.New("invoice").Funcs(funcMap).Parse(string(templateContent)))
}

// FormatCents renders an amount in cents as dollars ("$1,234.50" without the
// thousands separator: "$1234.50").
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}

// TemplateData holds data for invoice template rendering.
type TemplateData struct {
	Number       string
	Status       string
	CustomerName string
	BoatName     string
	IssuedAt     time.Time
	DueAt        time.Time
	Lines        []TemplateLine
	TotalCents   int64
}

// TemplateLine holds one invoice line for the template.
type TemplateLine struct {
	Description string
	Quantity    int
	AmountCents int64
}

// RenderInvoiceHTML renders the invoice template with provided data.
func RenderInvoiceHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := invoiceTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load.
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>Invoice {{.Number}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    table { width: 100%; border-collapse: collapse; }
    td, th { border-bottom: 1px solid #ddd; padding: 0.5rem; text-align: left; }
  </style>
</head>
<body>
  <h1>Invoice {{.Number}}</h1>
  <div class="meta">{{.CustomerName}} | {{.BoatName}} | Issued {{formatDate .IssuedAt "Jan 2, 2006"}}</div>
  <table>
    {{range .Lines}}<tr><td>{{.Description}}</td><td>{{.Quantity}}</td><td>{{money .AmountCents}}</td></tr>{{end}}
    <tr><th>Total</th><th></th><th>{{money .TotalCents}}</th></tr>
  </table>
</body>
</html>`
