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

var certificateTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"upper": strings.ToUpper,
		"humanize": func(s string) string {
			return strings.ReplaceAll(s, "_", " ")
		},
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
		"yesNo": func(b bool) string {
			if b {
				return "Yes"
			}
			return "No"
		},
	}

	certificateTemplate = template.Must(
		template.New("certificate.html").Funcs(funcMap).ParseFS(templateFS, "templates/certificate.html"),
	)
}

// TemplateData holds data for certificate rendering
type TemplateData struct {
	Certificate Certificate
	GeneratedAt time.Time
}

// RenderCertificateHTML renders the certificate template with provided data
func RenderCertificateHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := certificateTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
