// Package display renders client state for a terminal. Nothing here talks to the backend.
package display

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/docker/go-units"
	"github.com/fatih/color"
	"github.com/pkg/errors"

	"github.com/packageml/packageml/internal/preview"
	"github.com/packageml/packageml/internal/resource"
	"github.com/packageml/packageml/pkg/model"
)

const none = "-"

// Printer writes tables to Out and notices to Err.
type Printer struct {
	Out   io.Writer
	Err   io.Writer
	Color bool
	// JSON switches every table to indented JSON.
	JSON bool

	now func() time.Time
}

// New returns a printer with color off.
func New(out, errOut io.Writer) *Printer {
	return &Printer{Out: out, Err: errOut, now: time.Now}
}

func (p *Printer) paint(s string, attrs ...color.Attribute) string {
	c := color.New(attrs...)
	if p.Color {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return c.Sprint(s)
}

func (p *Printer) table(header string, rows [][]string) error {
	w := tabwriter.NewWriter(p.Out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, header)
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	return errors.Wrap(w.Flush(), "writing table")
}

func (p *Printer) json(v interface{}) error {
	enc := json.NewEncoder(p.Out)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(v), "writing json")
}

// since renders t relative to now, like "3 minutes ago".
func (p *Printer) since(t time.Time) string {
	if t.IsZero() {
		return none
	}
	return units.HumanDuration(p.now().Sub(t)) + " ago"
}

func (p *Printer) optionalTime(t *time.Time) string {
	if t == nil {
		return none
	}
	return p.since(*t)
}

// Size renders a byte count, e.g. "1.5MB".
func Size(n int64) string {
	return units.HumanSize(float64(n))
}

// StatusLabel is the colored, human readable job status.
func (p *Printer) StatusLabel(s model.JobState) string {
	switch s {
	case model.JobPending:
		return p.paint(s.Label(), color.FgYellow)
	case model.JobInProgress:
		return p.paint(s.Label(), color.FgCyan)
	case model.JobCompleted:
		return p.paint(s.Label(), color.FgGreen)
	case model.JobFailed:
		return p.paint(s.Label(), color.FgRed)
	default:
		return s.Label()
	}
}

// Notify implements resource.Notifier on the error stream.
func (p *Printer) Notify(level resource.Level, msg string) {
	var tag string
	switch level {
	case resource.Info:
		tag = p.paint("info", color.FgGreen)
	case resource.Warning:
		tag = p.paint("warning", color.FgYellow)
	default:
		tag = p.paint("error", color.FgRed, color.Bold)
	}
	fmt.Fprintf(p.Err, "%s: %s\n", tag, msg)
}

// Message prints a plain line to Out.
func (p *Printer) Message(format string, args ...interface{}) {
	fmt.Fprintf(p.Out, format+"\n", args...)
}

// User prints the logged in profile.
func (p *Printer) User(u *model.User) error {
	if p.JSON {
		return p.json(u)
	}
	p.Message("%s (id %d)", u.Email, u.ID)
	return nil
}

// Datasets prints the dataset list.
func (p *Printer) Datasets(items []model.Dataset) error {
	if p.JSON {
		return p.json(items)
	}
	rows := make([][]string, 0, len(items))
	for _, d := range items {
		rows = append(rows, []string{
			fmt.Sprint(d.ID), d.Name, d.Filename, fmt.Sprint(d.Rows), fmt.Sprint(d.Columns),
			Size(d.Size), strings.ToUpper(d.FileType), fmt.Sprint(d.MissingValues),
			fmt.Sprint(d.UsedInJobs), p.since(d.CreatedAt),
		})
	}
	return p.table("ID\tNAME\tFILE\tROWS\tCOLUMNS\tSIZE\tTYPE\tMISSING\tJOBS\tCREATED", rows)
}

// DatasetDetail prints one dataset with its column schema and sample rows.
func (p *Printer) DatasetDetail(d model.DatasetDetail) error {
	if p.JSON {
		return p.json(d)
	}
	p.Message("%s (id %d): %s, %d rows x %d columns, %s", d.Name, d.ID, d.Filename, d.Rows, d.Columns,
		Size(d.Size))
	if d.Description != "" {
		p.Message("%s", d.Description)
	}
	p.Message("")

	rows := make([][]string, 0, len(d.ColumnSchema))
	for _, c := range d.ColumnSchema {
		example := none
		if c.Example != nil {
			example = *c.Example
		}
		rows = append(rows, []string{c.Name, c.Type, fmt.Sprint(c.Missing), example})
	}
	if err := p.table("COLUMN\tTYPE\tMISSING\tEXAMPLE", rows); err != nil {
		return err
	}
	if len(d.SampleData) == 0 {
		return nil
	}
	p.Message("")
	return p.Preview(&preview.Preview{Columns: d.ColumnNames(), Rows: d.SampleData})
}

// Preview prints the head of a file.
func (p *Printer) Preview(pr *preview.Preview) error {
	if p.JSON {
		return p.json(pr)
	}
	rows := make([][]string, 0, len(pr.Rows))
	for i := range pr.Rows {
		rows = append(rows, pr.Cells(i))
	}
	return p.table(strings.Join(pr.Columns, "\t"), rows)
}

// Models prints the model list.
func (p *Printer) Models(items []model.Model) error {
	if p.JSON {
		return p.json(items)
	}
	rows := make([][]string, 0, len(items))
	for _, m := range items {
		family := m.ModelType
		if f, ok := model.Families[m.ModelType]; ok {
			family = f.Name
		}
		rows = append(rows, []string{
			fmt.Sprint(m.ID), m.Name, family, string(m.TaskType), p.since(m.CreatedAt),
		})
	}
	return p.table("ID\tNAME\tFAMILY\tTASK\tCREATED", rows)
}

// Model prints one model with its hyperparameters in name order.
func (p *Printer) Model(m model.Model) error {
	if p.JSON {
		return p.json(m)
	}
	p.Message("%s (id %d): %s, %s", m.Name, m.ID, m.ModelType, m.TaskType)
	if m.Description != "" {
		p.Message("%s", m.Description)
	}
	p.Message("")
	return p.hyperparameters(m.Hyperparameters)
}

func (p *Printer) hyperparameters(hp model.Hyperparameters) error {
	keys := make([]string, 0, len(hp))
	for k := range hp {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{k, formatValue(hp[k])})
	}
	return p.table("HYPERPARAMETER\tVALUE", rows)
}

func formatValue(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case string, bool, int, int64, float64:
		return fmt.Sprint(v)
	default:
		bs, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(bs)
	}
}

// Families prints the catalog of configurable model families.
func (p *Printer) Families() error {
	if p.JSON {
		return p.json(model.Families)
	}
	rows := make([][]string, 0, len(model.Families))
	for _, key := range model.FamilyNames() {
		f := model.Families[key]
		rows = append(rows, []string{key, f.Name, string(f.TaskType)})
	}
	return p.table("MODEL TYPE\tNAME\tTASK", rows)
}

// Jobs prints the job list. The status is last so its color codes do not skew the columns.
func (p *Printer) Jobs(items []model.Job) error {
	if p.JSON {
		return p.json(items)
	}
	rows := make([][]string, 0, len(items))
	for _, j := range items {
		rows = append(rows, []string{
			fmt.Sprint(j.ID), j.Name, fmt.Sprint(j.ModelID), fmt.Sprint(j.DatasetID),
			fmt.Sprintf("%.0f%%", j.Progress), p.since(j.CreatedAt), p.StatusLabel(j.Status),
		})
	}
	return p.table("ID\tNAME\tMODEL\tDATASET\tPROGRESS\tCREATED\tSTATUS", rows)
}

// Job prints one job with its metrics.
func (p *Printer) Job(j model.Job) error {
	if p.JSON {
		return p.json(j)
	}
	p.Message("%s (id %d): %s, %.0f%%", j.Name, j.ID, p.StatusLabel(j.Status), j.Progress)
	p.Message("model %d on dataset %d", j.ModelID, j.DatasetID)
	if j.TargetColumn != "" {
		p.Message("target: %s", j.TargetColumn)
	}
	if len(j.FeatureColumns) > 0 {
		p.Message("features: %s", strings.Join(j.FeatureColumns, ", "))
	}
	p.Message("created %s, started %s, completed %s",
		p.since(j.CreatedAt), p.optionalTime(j.StartedAt), p.optionalTime(j.CompletedAt))
	if len(j.Metrics) == 0 {
		return nil
	}
	p.Message("")
	keys := make([]string, 0, len(j.Metrics))
	for k := range j.Metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{k, formatValue(j.Metrics[k])})
	}
	return p.table("METRIC\tVALUE", rows)
}

// APIKeys prints the key list. Keys are always shown truncated.
func (p *Printer) APIKeys(items []model.APIKey) error {
	redacted := make([]model.APIKey, 0, len(items))
	for _, k := range items {
		redacted = append(redacted, k.Redacted())
	}
	if p.JSON {
		return p.json(redacted)
	}
	rows := make([][]string, 0, len(redacted))
	for _, k := range redacted {
		expires := p.paint("never", color.Faint)
		if k.ExpiresAt != nil {
			expires = k.ExpiresAt.Format("2006-01-02")
			if k.Expired(p.now()) {
				expires = p.paint(expires+" (expired)", color.FgRed)
			}
		}
		rows = append(rows, []string{
			fmt.Sprint(k.ID), k.Name, k.Key, p.since(k.CreatedAt), fmt.Sprint(k.UsageCount),
			p.optionalTime(k.LastUsedAt), expires,
		})
	}
	return p.table("ID\tNAME\tKEY\tCREATED\tUSES\tLAST USED\tEXPIRES", rows)
}

// GeneratedKey prints a new key's full secret. It is the only place the secret is ever shown.
func (p *Printer) GeneratedKey(key model.APIKey, secret string) error {
	if p.JSON {
		return p.json(struct {
			Key    model.APIKey `json:"key"`
			Secret string       `json:"secret"`
		}{key.Redacted(), secret})
	}
	p.Message("API key %q created (id %d).", key.Name, key.ID)
	p.Message("")
	p.Message("    %s", p.paint(secret, color.Bold))
	p.Message("")
	fmt.Fprintln(p.Err, p.paint("Copy it now: it will not be shown again.", color.FgYellow))
	return nil
}
