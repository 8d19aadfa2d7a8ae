package tracing

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/rs/xid"
	"go.uber.org/multierr"

	control "cruise-ctrl-core/closed_loop/longitudinal_control"
)

var csvHeader = []string{"Time (s)", "Actual Speed (km/h)", "Target Speed (km/h)"}

// CSVTraceWriter stores samples into a CSV file, two decimals per value.
type CSVTraceWriter struct {
	path string
	file *os.File
	w    *csv.Writer

	samples    []control.Sample
	bufferSize int
}

// NewCSVTraceWriter creates a CSV writer. An empty path picks a unique name.
func NewCSVTraceWriter(path string) *CSVTraceWriter {
	return &CSVTraceWriter{
		path:       path,
		bufferSize: 1000,
	}
}

// Path returns the file the writer targets
func (t *CSVTraceWriter) Path() string {
	return t.path
}

// Init creates the CSV file, replacing an existing one, and writes the header
func (t *CSVTraceWriter) Init() error {
	if t.path == "" {
		t.path = "speed_trace_" + xid.New().String() + ".csv"
	}

	file, err := os.Create(t.path)
	if err != nil {
		return fmt.Errorf("create csv trace: %w", err)
	}
	t.file = file
	t.w = csv.NewWriter(file)

	if err := t.w.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	return nil
}

// Write buffers a sample, flushing when the buffer is full
func (t *CSVTraceWriter) Write(s control.Sample) error {
	t.samples = append(t.samples, s)
	if len(t.samples) >= t.bufferSize {
		return t.Flush()
	}
	return nil
}

// Flush writes the buffered samples to the file
func (t *CSVTraceWriter) Flush() error {
	if t.w == nil {
		return nil
	}

	for _, s := range t.samples {
		err := t.w.Write([]string{
			formatCell(s.ElapsedS),
			formatCell(s.MeasuredKph),
			formatCell(s.TargetKph),
		})
		if err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	t.samples = nil

	t.w.Flush()
	return t.w.Error()
}

// Close flushes and closes the file
func (t *CSVTraceWriter) Close() error {
	if t.file == nil {
		return nil
	}
	flushErr := t.Flush()
	closeErr := t.file.Close()
	t.file, t.w = nil, nil
	return multierr.Combine(flushErr, closeErr)
}

func formatCell(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
