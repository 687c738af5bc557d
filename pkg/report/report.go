// Package report renders a session record into a standalone HTML
// report suitable for handing to the device owner.
package report

import (
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"time"

	"github.com/btsentry/btsentry/pkg/types"
)

// Data is everything the template sees.
type Data struct {
	Session     types.SessionRecord
	Summary     string
	GeneratedAt time.Time
}

type Generator struct {
	outputDir string
	tmpl      *template.Template
}

func NewGenerator(outputDir string) (*Generator, error) {
	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"statusClass": statusClass,
		"formatTime":  formatTime,
	}).Parse(reportTemplate)
	if err != nil {
		return nil, fmt.Errorf("report: parse template: %w", err)
	}
	return &Generator{outputDir: outputDir, tmpl: tmpl}, nil
}

// Generate writes the report and returns its path.
func (g *Generator) Generate(record types.SessionRecord, summary string) (string, error) {
	if err := os.MkdirAll(g.outputDir, 0o750); err != nil {
		return "", fmt.Errorf("report: create output directory: %w", err)
	}

	name := fmt.Sprintf("btsentry_report_%s.html", record.CreatedAt.Format("20060102_150405"))
	path := filepath.Join(g.outputDir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("report: create file: %w", err)
	}
	defer f.Close()

	data := Data{
		Session:     record,
		Summary:     summary,
		GeneratedAt: time.Now().UTC(),
	}
	if err := g.tmpl.Execute(f, data); err != nil {
		return "", fmt.Errorf("report: render: %w", err)
	}
	return path, nil
}

func statusClass(status types.Status) string {
	switch status {
	case types.StatusCompleted:
		return "ok"
	case types.StatusDenied, types.StatusFailed:
		return "bad"
	default:
		return "warn"
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

const reportTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Bluetooth Security Assessment {{.Session.ID}}</title>
<style>
  body { font-family: sans-serif; margin: 2rem; color: #222; }
  h1 { border-bottom: 2px solid #444; padding-bottom: .3rem; }
  table { border-collapse: collapse; width: 100%; margin-bottom: 1.5rem; }
  th, td { border: 1px solid #ccc; padding: .4rem .6rem; text-align: left; font-size: .9rem; }
  th { background: #f0f0f0; }
  .ok { color: #1a7f37; }
  .bad { color: #b02a37; }
  .warn { color: #9a6700; }
  .meta { color: #666; font-size: .85rem; }
  pre { background: #f6f8fa; padding: .6rem; overflow-x: auto; font-size: .8rem; }
</style>
</head>
<body>
<h1>Bluetooth Security Assessment</h1>
<p class="meta">Session {{.Session.ID}} &middot; started {{.Session.CreatedAt.Format "2006-01-02 15:04:05"}} UTC &middot; generated {{.GeneratedAt.Format "2006-01-02 15:04:05"}} UTC</p>

{{if .Summary}}
<h2>Summary</h2>
<p>{{.Summary}}</p>
{{end}}

<h2>Discovered Devices ({{len .Session.Devices}})</h2>
{{if .Session.Devices}}
<table>
<tr><th>MAC</th><th>Name</th><th>Type</th><th>Class</th><th>RSSI</th><th>Discovered</th></tr>
{{range .Session.Devices}}
<tr>
  <td>{{.MAC}}</td>
  <td>{{.Name}}</td>
  <td>{{.Type}}</td>
  <td>{{.MajorClass}}</td>
  <td>{{if .RSSI}}{{.RSSI}} dBm{{else}}-{{end}}</td>
  <td>{{.DiscoveredAt.Format "15:04:05"}}</td>
</tr>
{{end}}
</table>
{{else}}
<p>No devices were discovered.</p>
{{end}}

<h2>Scenarios ({{len .Session.Scenarios}})</h2>
{{if .Session.Scenarios}}
<table>
<tr><th>ID</th><th>Kind</th><th>Target</th><th>Status</th><th>Started</th><th>Finished</th><th>Exit</th><th>Error</th></tr>
{{range .Session.Scenarios}}
<tr>
  <td>{{printf "%.8s" .ID}}</td>
  <td>{{.Request.Kind}}</td>
  <td>{{.Request.Target}}</td>
  <td class="{{statusClass .Status}}">{{.Status}}</td>
  <td>{{formatTime .StartedAt}}</td>
  <td>{{formatTime .FinishedAt}}</td>
  <td>{{if .ExitCode}}{{.ExitCode}}{{else}}-{{end}}</td>
  <td>{{.Error}}</td>
</tr>
{{end}}
</table>
{{range .Session.Scenarios}}
{{if .Output}}
<h3>Output: {{.Request.Kind}} against {{.Request.Target}}</h3>
<pre>{{range .Output}}{{.}}
{{end}}</pre>
{{end}}
{{end}}
{{else}}
<p>No scenarios were executed.</p>
{{end}}

</body>
</html>
`
