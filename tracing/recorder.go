package tracing

import (
	"errors"
	"sync"

	"github.com/tebeka/atexit"
	"go.uber.org/multierr"

	control "cruise-ctrl-core/closed_loop/longitudinal_control"
	"cruise-ctrl-core/utils"
)

// Config selects the trace outputs of a run. Empty paths disable an output.
type Config struct {
	PlotPath   string `json:"plot_path"`
	CSVPath    string `json:"csv_path"`
	SQLitePath string `json:"sqlite_path"`
}

// DefaultConfig writes the chart and CSV trace to the working directory
func DefaultConfig() Config {
	return Config{
		PlotPath: "speed_plot.png",
		CSVPath:  "speed_data.csv",
	}
}

// Recorder keeps every sample of a run in memory for the chart and streams
// them to the configured writers. It is safe for concurrent use.
type Recorder struct {
	cfg Config
	log *utils.Logger

	mu       sync.Mutex
	samples  []control.Sample
	writers  []TraceWriter
	writeErr error
	closed   bool
}

var _ control.SampleObserver = (*Recorder)(nil)

// NewRecorder creates a recorder with the writers implied by cfg
func NewRecorder(cfg Config, log *utils.Logger) *Recorder {
	r := &Recorder{cfg: cfg, log: log}
	if cfg.CSVPath != "" {
		r.writers = append(r.writers, NewCSVTraceWriter(cfg.CSVPath))
	}
	if cfg.SQLitePath != "" {
		r.writers = append(r.writers, NewSQLiteTraceWriter(cfg.SQLitePath))
	}
	return r
}

// AddWriter attaches an extra writer; call before Init
func (r *Recorder) AddWriter(w TraceWriter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writers = append(r.writers, w)
}

// Init opens all writers
func (r *Recorder) Init() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, w := range r.writers {
		if err := w.Init(); err != nil {
			for _, opened := range r.writers[:i] {
				err = multierr.Append(err, opened.Close())
			}
			return err
		}
	}
	return nil
}

// ObserveSample records one sample. Writer errors are kept and reported by
// Close so the control path never blocks on trace I/O failures.
func (r *Recorder) ObserveSample(s control.Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.samples = append(r.samples, s)
	for _, w := range r.writers {
		if err := w.Write(s); err != nil && r.writeErr == nil {
			r.writeErr = err
			r.log.Error("Trace write failed: %v", err)
		}
	}
}

// Samples returns a copy of the recorded samples
func (r *Recorder) Samples() []control.Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]control.Sample(nil), r.samples...)
}

// Last returns the most recent sample
func (r *Recorder) Last() (control.Sample, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.samples) == 0 {
		return control.Sample{}, false
	}
	return r.samples[len(r.samples)-1], true
}

// Close renders the chart and closes every writer. Only the first call does
// any work.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	err := r.writeErr
	if r.cfg.PlotPath != "" {
		switch plotErr := SaveSpeedPlotPNG(r.samples, r.cfg.PlotPath); {
		case errors.Is(plotErr, ErrNoSamples):
			r.log.Warn("No samples recorded; skipping %s", r.cfg.PlotPath)
		case plotErr != nil:
			err = multierr.Append(err, plotErr)
		default:
			r.log.Info("Saved plot to %s", r.cfg.PlotPath)
		}
	}

	for _, w := range r.writers {
		if cerr := w.Close(); cerr != nil {
			err = multierr.Append(err, cerr)
			continue
		}
		switch tw := w.(type) {
		case *CSVTraceWriter:
			r.log.Info("Saved data to %s", tw.Path())
		case *SQLiteTraceWriter:
			r.log.Info("Saved run %s to %s", tw.RunID(), tw.dbName)
		}
	}
	return err
}

// CloseAtExit makes sure traces are persisted when the process leaves
// through atexit.Exit.
func (r *Recorder) CloseAtExit() {
	atexit.Register(func() {
		if err := r.Close(); err != nil {
			r.log.Error("Trace close failed: %v", err)
		}
	})
}
