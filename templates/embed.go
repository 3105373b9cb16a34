package templates

import (
	"embed"
	"strconv"
	"text/template"
	"time"
)

//go:embed *.tmpl
var FS embed.FS

var funcs = template.FuncMap{
	"timestamp": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.Local().Format("2006-01-02 15:04:05.000")
	},
	"duration": func(d time.Duration) string {
		return d.Round(time.Millisecond).String()
	},
	"number": func(v float64) string {
		return strconv.FormatFloat(v, 'g', -1, 64)
	},
	"short": func(s string) string {
		if len(s) > 12 {
			return s[:12]
		}
		return s
	},
}

// LoadTemplates loads all templates from the embedded filesystem
func LoadTemplates() (*template.Template, error) {
	return template.New("").Funcs(funcs).ParseFS(FS, "*.tmpl")
}
