// Package audit records accident alerts to durable sinks: an append-only
// log file and the accident_events table. One record is written per
// accident_alert emission; recording failures are logged and absorbed so
// alert delivery is never blocked on the audit trail.
package audit

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"crashwatch/internal/database"
	"crashwatch/internal/pipeline"
)

// Recorder writes accident records. db may be nil to log to file only.
type Recorder struct {
	logger *log.Logger
	file   *os.File
	db     *database.Database
}

// NewRecorder opens (creating directories as needed) the accident log at
// logPath for appending.
func NewRecorder(logPath string, db *database.Database) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open accident log: %w", err)
	}
	return &Recorder{
		logger: log.New(file, "", log.LstdFlags|log.LUTC),
		file:   file,
		db:     db,
	}, nil
}

// Record appends one accident record for a completed detection.
func (r *Recorder) Record(res pipeline.DetectionResult) {
	desc := res.Description
	if desc == "" {
		desc = "<no description>"
	}
	r.logger.Printf("Accident Detected - Stream: %s, Location: %s, Time: %s, Description: %s",
		res.StreamID, res.Location, res.AnalyzedAt.Format("2006-01-02T15:04:05Z07:00"), desc)

	if r.db == nil {
		return
	}
	ev := &database.AccidentRecord{
		ID:          uuid.NewString(),
		StreamID:    res.StreamID,
		Location:    res.Location,
		Description: res.Description,
		DetectedAt:  res.AnalyzedAt,
	}
	if err := r.db.SaveAccident(ev); err != nil {
		log.Printf("[Audit] failed to persist accident event for %s: %v", res.StreamID, err)
	}
}

// Close closes the underlying log file.
func (r *Recorder) Close() error {
	return r.file.Close()
}
