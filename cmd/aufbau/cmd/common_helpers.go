package cmd

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/term"

	"github.com/acdh-oeaw/aufbau/pkg/deploy"
)

var isTerminal = true

const (
	AufbauInteractive        = "AUFBAU_INTERACTIVE"
	AufbauInteractiveDisable = "no"
	DeathMessage             = "Error executing command: {{.Error|red}}\n"
)

const runReportTemplate = `{{ .Table | table -}}
Run {{ .RunID }}: {{ if .Err }}{{ "failed" | red }}{{ else }}{{ "completed" | green }}{{ end }}
`

//nolint:gochecknoinits
func init() {
	// disable colors if we're not attached to interactive TTY
	if !term.IsTerminal(int(os.Stdout.Fd())) || os.Getenv(AufbauInteractive) == AufbauInteractiveDisable {
		DisableColors()
	}
}

func DisableColors() {
	text.DisableColors()
	isTerminal = false
}

type Table struct {
	Headers []interface{}
	Rows    [][]interface{}
}

func WriteTo(tpl string, data interface{}, w io.Writer) {
	templ := template.New("output")
	templ.Funcs(template.FuncMap{
		"red": func(arg interface{}) string {
			return text.FgHiRed.Sprint(arg)
		},
		"yellow": func(arg interface{}) string {
			return text.FgHiYellow.Sprint(arg)
		},
		"green": func(arg interface{}) string {
			return text.FgHiGreen.Sprint(arg)
		},
		"bold": func(arg interface{}) string {
			return text.Bold.Sprint(arg)
		},
		"join": func(sep string, args []string) string {
			return strings.Join(args, sep)
		},
		"table": func(tab *Table) string {
			if isTerminal {
				buf := new(bytes.Buffer)
				t := table.NewWriter()
				t.SetOutputMirror(buf)
				t.AppendHeader(tab.Headers)
				for _, row := range tab.Rows {
					t.AppendRow(row)
				}
				t.Render()
				return buf.String()
			}
			var b strings.Builder
			for _, row := range tab.Rows {
				for ic, cell := range row {
					b.WriteString(fmt.Sprintf("%s", cell))
					if ic < len(row)-1 {
						b.WriteString("\t")
					}
				}
				b.WriteString("\n")
			}
			return b.String()
		},
	})
	t := template.Must(templ.Parse(tpl))
	err := t.Execute(w, data)
	if err != nil {
		panic(err)
	}
}

func Write(tpl string, data interface{}) {
	WriteTo(tpl, data, os.Stdout)
}

func Die(err string, code int) {
	WriteTo(DeathMessage, struct{ Error string }{err}, os.Stderr)
	os.Exit(code)
}

func DieFmt(msg string, args ...interface{}) {
	Die(fmt.Sprintf(msg, args...), 1)
}

func DieErr(err error) {
	WriteTo(DeathMessage, struct{ Error string }{err.Error()}, os.Stderr)
	os.Exit(1)
}

func Fmt(msg string, args ...interface{}) {
	fmt.Printf(msg, args...)
}

func PrintTable(rows [][]interface{}, headers []interface{}) {
	ctx := struct {
		Table *Table
	}{
		Table: &Table{
			Headers: headers,
			Rows:    rows,
		},
	}
	Write("{{ .Table | table -}}\n", ctx)
}

func printRunReport(report *deploy.Report) {
	rows := make([][]interface{}, 0, len(report.Results))
	for _, res := range report.Results {
		rows = append(rows, reportRow(res))
	}
	Write(runReportTemplate, struct {
		Table *Table
		RunID string
		Err   error
	}{
		Table: &Table{
			Headers: []interface{}{"Stage", "Status", "Details", "Took"},
			Rows:    rows,
		},
		RunID: report.RunID,
		Err:   report.Err(),
	})
}

func reportRow(res deploy.StageResult) []interface{} {
	status := "done"
	details := res.Details
	switch {
	case res.Err != nil:
		status = "failed"
		details = res.Err.Error()
	case res.Skipped:
		status = "skipped"
		details = res.Reason
	}
	return []interface{}{string(res.Stage), status, details, res.Took.Round(time.Millisecond)}
}
