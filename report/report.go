// Package report renders the outcome of a run as a text, JSON or CSV report
// and optionally exports it as OTLP log records.
package report

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"siv/compare"
	"siv/config"
	"siv/logger"
	"siv/systeminfo"
)

const SchemaVersion = "1.0"

// Metrics describes one run.
type Metrics struct {
	Mode            string           `json:"mode"`
	Directory       string           `json:"directory"`
	Baseline        string           `json:"baseline"`
	Algorithm       string           `json:"algorithm"`
	StartTime       string           `json:"start_time"`
	EndTime         string           `json:"end_time"`
	Elapsed         string           `json:"elapsed"`
	Directories     int              `json:"directories"`
	Files           int              `json:"files"`
	Symlinks        int              `json:"symlinks"`
	Special         int              `json:"special"`
	Bytes           int64            `json:"bytes"`
	BaselineEntries int              `json:"baseline_entries,omitempty"`
	Summary         *compare.Summary `json:"summary,omitempty"`
}

// Document is everything a report contains.
type Document struct {
	SchemaVersion string               `json:"schema_version"`
	Host          *systeminfo.HostInfo `json:"host,omitempty"`
	Metrics       Metrics              `json:"metrics"`
	Changes       []compare.Change     `json:"changes"`
}

type Writer struct {
	format string
	otel   *otelLogger
}

// New returns a Writer for cfg's report format. OTLP export is enabled when
// an endpoint is configured; a bad exporter configuration only disables
// export.
func New(cfg *config.Config) *Writer {
	w := &Writer{format: "text"}
	if cfg == nil {
		return w
	}
	if f := strings.ToLower(strings.TrimSpace(cfg.ReportFormat)); f != "" {
		w.format = f
	}
	otel, err := newOtelLogger(cfg)
	if err != nil {
		logger.Warnf("OTEL export disabled: %v", err)
	} else {
		w.otel = otel
	}
	return w
}

// Write renders doc to path. The report is written to a temporary file in
// the same directory and renamed into place once complete.
func (w *Writer) Write(path string, doc *Document) (err error) {
	if doc.SchemaVersion == "" {
		doc.SchemaVersion = SchemaVersion
	}
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+".tmp-*")
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	buf := bufio.NewWriterSize(tmp, 256*1024)
	if err = Render(buf, w.format, doc); err != nil {
		return err
	}
	if err = buf.Flush(); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename report: %w", err)
	}

	w.emit(doc)
	return nil
}

func (w *Writer) emit(doc *Document) {
	if w.otel == nil {
		return
	}
	for i := range doc.Changes {
		w.otel.Emit("change", doc.Changes[i])
	}
	w.otel.Emit("metrics", doc.Metrics)
}

// Close flushes any pending OTLP export.
func (w *Writer) Close() {
	if w == nil {
		return
	}
	w.otel.Shutdown()
}

// Render writes doc to out in the given format.
func Render(out io.Writer, format string, doc *Document) error {
	switch format {
	case "text", "":
		return renderText(out, doc)
	case "json":
		if doc.Changes == nil {
			withEmpty := *doc
			withEmpty.Changes = []compare.Change{}
			doc = &withEmpty
		}
		if err := encodeDocument(out, doc); err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		return nil
	case "csv":
		return renderCSV(out, doc)
	default:
		return fmt.Errorf("unsupported report format: %s", format)
	}
}

var fieldLabels = map[string]string{
	compare.FieldSize:        "Size changed",
	compare.FieldOwner:       "Owner changed",
	compare.FieldGroup:       "Group changed",
	compare.FieldPermissions: "Permissions changed",
	compare.FieldModifiedAt:  "Modification time changed",
	compare.FieldChangedAt:   "Change time changed",
	compare.FieldDigest:      "Hash changed",
}

func modeTitle(mode string) string {
	switch mode {
	case config.ModeInit:
		return "initialization"
	case config.ModeVerify:
		return "verification"
	default:
		return mode
	}
}

func renderText(out io.Writer, doc *Document) error {
	m := doc.Metrics
	var b strings.Builder
	b.WriteString("SIV integrity report\n")
	if doc.Host != nil {
		fmt.Fprintf(&b, "Host: %s\n", doc.Host)
	}
	fmt.Fprintf(&b, "Mode: %s\n", modeTitle(m.Mode))
	fmt.Fprintf(&b, "Monitored directory: %s\n", m.Directory)
	fmt.Fprintf(&b, "Verification file: %s\n", m.Baseline)
	fmt.Fprintf(&b, "Hash function: %s\n", m.Algorithm)
	fmt.Fprintf(&b, "Start time: %s\n", m.StartTime)
	fmt.Fprintf(&b, "End time: %s\n", m.EndTime)
	fmt.Fprintf(&b, "Time to complete: %s\n", m.Elapsed)
	fmt.Fprintf(&b, "Directories parsed: %d\n", m.Directories)
	fmt.Fprintf(&b, "Files parsed: %d\n", m.Files)
	fmt.Fprintf(&b, "Symlinks parsed: %d\n", m.Symlinks)
	fmt.Fprintf(&b, "Special files parsed: %d\n", m.Special)
	fmt.Fprintf(&b, "Bytes hashed: %d\n", m.Bytes)

	if m.Summary != nil {
		fmt.Fprintf(&b, "Baseline entries: %d\n", m.BaselineEntries)
		b.WriteString("\n")
		if len(doc.Changes) == 0 {
			b.WriteString("No changes detected.\n")
		}
		for _, c := range doc.Changes {
			switch c.Type {
			case compare.Added:
				fmt.Fprintf(&b, "Created: %s\n", c.Path)
			case compare.Removed:
				fmt.Fprintf(&b, "Deleted: %s\n", c.Path)
			case compare.Modified:
				for _, name := range c.FieldNames() {
					fc := c.Fields[name]
					fmt.Fprintf(&b, "%s: %s (%s -> %s)\n", fieldLabels[name], c.Path, displayValue(fc.Old), displayValue(fc.New))
				}
			}
		}
		b.WriteString("\n")
		fmt.Fprintf(&b, "Created: %d, Deleted: %d, Modified: %d\n", m.Summary.Added, m.Summary.Removed, m.Summary.Modified)
		fmt.Fprintf(&b, "Warnings issued: %d\n", m.Summary.Warnings)
	}
	_, err := io.WriteString(out, b.String())
	return err
}

func displayValue(v string) string {
	if v == "" {
		return "-"
	}
	return v
}

var csvHeader = []string{"record", "path", "field", "old", "new"}

func renderCSV(out io.Writer, doc *Document) error {
	cw := csv.NewWriter(out)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, c := range doc.Changes {
		switch c.Type {
		case compare.Modified:
			for _, name := range c.FieldNames() {
				fc := c.Fields[name]
				if err := cw.Write([]string{c.Type.String(), c.Path, name, fc.Old, fc.New}); err != nil {
					return err
				}
			}
		default:
			if err := cw.Write([]string{c.Type.String(), c.Path, "", "", ""}); err != nil {
				return err
			}
		}
	}
	for _, kv := range metricRows(doc) {
		if err := cw.Write([]string{"metric", "", kv[0], "", kv[1]}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func metricRows(doc *Document) [][2]string {
	m := doc.Metrics
	rows := [][2]string{
		{"mode", m.Mode},
		{"directory", m.Directory},
		{"baseline", m.Baseline},
		{"algorithm", m.Algorithm},
		{"start_time", m.StartTime},
		{"end_time", m.EndTime},
		{"elapsed", m.Elapsed},
		{"directories", strconv.Itoa(m.Directories)},
		{"files", strconv.Itoa(m.Files)},
		{"symlinks", strconv.Itoa(m.Symlinks)},
		{"special", strconv.Itoa(m.Special)},
		{"bytes", strconv.FormatInt(m.Bytes, 10)},
	}
	if doc.Host != nil {
		rows = append(rows, [2]string{"host", doc.Host.String()})
	}
	if m.Summary != nil {
		rows = append(rows,
			[2]string{"baseline_entries", strconv.Itoa(m.BaselineEntries)},
			[2]string{"added", strconv.Itoa(m.Summary.Added)},
			[2]string{"removed", strconv.Itoa(m.Summary.Removed)},
			[2]string{"modified", strconv.Itoa(m.Summary.Modified)},
			[2]string{"warnings", strconv.Itoa(m.Summary.Warnings)},
		)
	}
	return rows
}
