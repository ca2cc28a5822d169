package pipeline

import (
	"context"
	"time"
)

// DetectionStatus describes the state of the latest analysis attempt for a stream.
type DetectionStatus string

const (
	// StatusInitializing - no analysis has completed yet
	StatusInitializing DetectionStatus = "initializing"
	// StatusSuccess - the last classification completed
	StatusSuccess DetectionStatus = "success"
	// StatusNoFrame - a frame existed before but none is currently fresh enough to analyze
	StatusNoFrame DetectionStatus = "no_frame"
	// StatusError - the last classification failed (vision service timeout or transport failure)
	StatusError DetectionStatus = "error"
)

// Label is the binary classification produced by the vision service.
type Label string

const (
	LabelSafe     Label = "safe"
	LabelAccident Label = "accident"
)

// StreamStatus summarizes frame source health, used by discovery listings.
type StreamStatus string

const (
	StreamInitializing StreamStatus = "initializing"
	StreamSuccess      StreamStatus = "success"
	StreamDegraded     StreamStatus = "degraded"
	StreamError        StreamStatus = "error"
)

// Frame is one encoded JPEG image with its capture timestamp.
// Data is immutable once published: producers hand out copies, never
// shared mutable buffers.
type Frame struct {
	StreamID   string
	Data       []byte
	Seq        uint64
	CapturedAt time.Time
}

// Clone returns a frame with its own copy of the image bytes.
func (f Frame) Clone() Frame {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	f.Data = data
	return f
}

// DetectionResult is the latest analysis outcome for a stream.
// Mutated only by the classification workers; read through the detection cache.
type DetectionResult struct {
	StreamID     string
	Location     string
	Status       DetectionStatus
	Result       Label
	Description  string
	AnalyzedAt   time.Time
	ErrorMessage string
}

// VisionService is the external classify/describe capability.
// Both calls are bounded by the deadline on ctx; transport failures and
// timeouts come back as errors the caller records but never retries for
// the same sample.
type VisionService interface {
	// Classify labels a JPEG frame as safe or accident.
	Classify(ctx context.Context, jpeg []byte) (Label, error)

	// Describe produces a short description of an accident scene.
	// Only called after Classify returned LabelAccident.
	Describe(ctx context.Context, jpeg []byte) (string, error)
}

// EventSink receives completed detections from the worker pool.
// Implementations fan out to the broadcast hub, the audit log and
// notifiers; they must not block the calling worker.
type EventSink interface {
	// OnClassification is called for every successful classification,
	// safe or accident.
	OnClassification(res DetectionResult)

	// OnAccident is called once per accident-labeled frame, after the
	// description step completed or was absorbed. frame is the sample
	// the classification ran on.
	OnAccident(res DetectionResult, frame Frame)
}

// SourceStats counts frame acquisition activity for one stream.
type SourceStats struct {
	FramesCaptured uint64
	FetchFailures  uint64
	Restarts       uint64
	LastFrameUnix  int64
}

// SchedulerStats counts analysis sampling activity for one stream.
type SchedulerStats struct {
	SamplesOffered uint64
	SamplesDropped uint64
	StaleSkips     uint64
}

// WorkerStats counts classification activity for one stream.
type WorkerStats struct {
	Classifications uint64
	Accidents       uint64
	Errors          uint64
}
