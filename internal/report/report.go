// Package report renders probe results.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/fxnlabs/gpuinfo/internal/gpu"
	"github.com/fxnlabs/gpuinfo/internal/probe"
	"gopkg.in/yaml.v3"
)

// Formats accepted by the CLI.
const (
	FormatCSV  = "csv"
	FormatYAML = "yaml"
)

// Writer prints the line oriented report: section headers, progress lines and
// key,value results. It implements probe.Output.
type Writer struct {
	w      io.Writer
	csv    *csv.Writer
	values bool
	err    error
}

var _ probe.Output = (*Writer)(nil)

// NewWriter returns a Writer printing everything to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, csv: csv.NewWriter(w), values: true}
}

// NewProgressWriter returns a Writer that drops key,value results, for runs
// whose results are rendered as a Document instead.
func NewProgressWriter(w io.Writer) *Writer {
	rw := NewWriter(w)
	rw.values = false
	return rw
}

// Section prints a test header.
func (rw *Writer) Section(title string) {
	rw.printf("\n------ %s ------\n", title)
}

// Progress prints one free-form line.
func (rw *Writer) Progress(format string, args ...any) {
	rw.printf(format+"\n", args...)
}

// Value prints key,value.
func (rw *Writer) Value(key string, value any) {
	if !rw.values || rw.err != nil {
		return
	}
	if err := rw.csv.Write([]string{key, formatValue(value)}); err != nil {
		rw.err = err
		return
	}
	rw.csv.Flush()
	rw.err = rw.csv.Error()
}

// Err returns the first write error.
func (rw *Writer) Err() error {
	return rw.err
}

func (rw *Writer) printf(format string, args ...any) {
	if rw.err != nil {
		return
	}
	_, rw.err = fmt.Fprintf(rw.w, format, args...)
}

func formatValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// Document is the machine readable report of one run.
type Document struct {
	GeneratedAt   time.Time                  `yaml:"generatedAt"`
	Device        gpu.DeviceInfo             `yaml:"device"`
	HostGPUs      []gpu.HostGPU              `yaml:"hostGpus,omitempty"`
	Skipped       []string                   `yaml:"skipped,omitempty"`
	RegisterCount *probe.RegisterCountResult `yaml:"registerCount,omitempty"`
	Cacheline     *probe.CachelineResult     `yaml:"cacheline,omitempty"`
	Bandwidth     *probe.BandwidthResult     `yaml:"bandwidth,omitempty"`
}

// NewDocument builds a Document from the results of a run.
func NewDocument(results probe.Results, generatedAt time.Time) Document {
	doc := Document{
		GeneratedAt:   generatedAt.UTC(),
		Device:        results.Device,
		RegisterCount: results.RegisterCount,
		Cacheline:     results.Cacheline,
		Bandwidth:     results.Bandwidth,
	}
	if results.RegisterCount == nil {
		doc.Skipped = append(doc.Skipped, probe.TestRegCount)
	}
	if results.Cacheline == nil {
		doc.Skipped = append(doc.Skipped, probe.TestCacheline)
	}
	if results.Bandwidth == nil {
		doc.Skipped = append(doc.Skipped, probe.TestBandwidth)
	}
	return doc
}

// WriteYAML encodes doc to w.
func WriteYAML(w io.Writer, doc Document) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return enc.Close()
}

// ReadYAML decodes a Document previously written by WriteYAML.
func ReadYAML(r io.Reader) (Document, error) {
	var doc Document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("failed to decode report: %w", err)
	}
	return doc, nil
}
