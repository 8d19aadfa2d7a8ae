package tracing

import (
	"database/sql"
	"fmt"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"

	"github.com/rs/xid"
	"go.uber.org/multierr"

	control "cruise-ctrl-core/closed_loop/longitudinal_control"
)

const createSpeedTraceTable = `
CREATE TABLE IF NOT EXISTS speed_trace (
	run_id     TEXT    NOT NULL,
	seq        INTEGER NOT NULL,
	time_s     REAL    NOT NULL,
	actual_kph REAL    NOT NULL,
	target_kph REAL    NOT NULL,
	PRIMARY KEY (run_id, seq)
)`

// SQLiteTraceWriter appends samples of one run to a SQLite database. Several
// runs can share a database; each is keyed by its own run id.
type SQLiteTraceWriter struct {
	*sql.DB
	statement *sql.Stmt

	dbName    string
	runID     string
	seq       int64
	pending   []control.Sample
	batchSize int
}

// NewSQLiteTraceWriter creates a new SQLiteTraceWriter.
func NewSQLiteTraceWriter(path string) *SQLiteTraceWriter {
	return &SQLiteTraceWriter{
		dbName:    path,
		runID:     xid.New().String(),
		batchSize: 1000,
	}
}

// RunID identifies the rows written by this writer
func (t *SQLiteTraceWriter) RunID() string {
	return t.runID
}

// Init opens the database and prepares the insert statement
func (t *SQLiteTraceWriter) Init() error {
	if t.dbName == "" {
		t.dbName = "speed_trace_" + t.runID + ".sqlite3"
	}

	db, err := sql.Open("sqlite3", t.dbName)
	if err != nil {
		return fmt.Errorf("open sqlite trace: %w", err)
	}
	t.DB = db

	if _, err := t.Exec(createSpeedTraceTable); err != nil {
		return fmt.Errorf("create speed_trace table: %w", err)
	}

	t.statement, err = t.Prepare(
		`INSERT INTO speed_trace (run_id, seq, time_s, actual_kph, target_kph) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	return nil
}

// Write buffers a sample, flushing when the batch is full
func (t *SQLiteTraceWriter) Write(s control.Sample) error {
	t.pending = append(t.pending, s)
	if len(t.pending) >= t.batchSize {
		return t.Flush()
	}
	return nil
}

// Flush inserts all buffered samples in one transaction
func (t *SQLiteTraceWriter) Flush() error {
	if len(t.pending) == 0 || t.DB == nil {
		return nil
	}

	tx, err := t.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	start := t.seq
	stmt := tx.Stmt(t.statement)
	for _, s := range t.pending {
		if _, err := stmt.Exec(t.runID, t.seq, s.ElapsedS, s.MeasuredKph, s.TargetKph); err != nil {
			_ = tx.Rollback()
			t.seq = start
			return fmt.Errorf("insert sample %d: %w", t.seq, err)
		}
		t.seq++
	}

	if err := tx.Commit(); err != nil {
		t.seq = start
		return fmt.Errorf("commit: %w", err)
	}
	t.pending = nil
	return nil
}

// Close flushes pending samples and closes the database
func (t *SQLiteTraceWriter) Close() error {
	if t.DB == nil {
		return nil
	}
	flushErr := t.Flush()
	if t.statement != nil {
		_ = t.statement.Close()
	}
	closeErr := t.DB.Close()
	t.DB = nil
	return multierr.Combine(flushErr, closeErr)
}
