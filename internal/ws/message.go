package ws

import (
	"encoding/base64"
	"time"

	"crashwatch/internal/pipeline"
)

// Wire shapes are frozen for client compatibility; field names and
// presence rules must not change.

// FrameMessage carries one JPEG frame on the frame channel.
type FrameMessage struct {
	Type     string `json:"type"` // "frame"
	StreamID string `json:"stream_id"`
	Frame    string `json:"frame"` // base64 JPEG
}

// StatusMessage is sent once when an analysis subscriber connects.
type StatusMessage struct {
	Type      string    `json:"type"` // "status"
	StreamID  string    `json:"stream_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ClassificationUpdate reports every completed classification, safe or
// accident.
type ClassificationUpdate struct {
	Type      string    `json:"type"` // "classification_update"
	StreamID  string    `json:"stream_id"`
	Timestamp time.Time `json:"timestamp"`
	Result    string    `json:"result"` // "safe" | "accident"
	Location  string    `json:"location"`
}

// AccidentAlert carries the frame and description for an accident. It is
// emitted in addition to the classification update, never instead of it.
// Description is null when the description step failed.
type AccidentAlert struct {
	Type        string    `json:"type"` // "accident_alert"
	StreamID    string    `json:"stream_id"`
	Timestamp   time.Time `json:"timestamp"`
	Location    string    `json:"location"`
	Description *string   `json:"description"`
	Frame       string    `json:"frame"` // base64 JPEG
}

// CombinedSnapshot is the legacy poll-and-push message merging the
// current frame and detection state.
type CombinedSnapshot struct {
	Frame     *string           `json:"frame"` // base64 JPEG, null before first frame
	Detection CombinedDetection `json:"detection"`
}

// CombinedDetection mirrors the legacy detection object.
type CombinedDetection struct {
	Status       string     `json:"status"`
	Result       string     `json:"result"`
	Description  *string    `json:"description"`
	Timestamp    *time.Time `json:"timestamp"`
	Location     string     `json:"location"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// NewFrameMessage encodes a frame for the frame channel.
func NewFrameMessage(streamID string, jpeg []byte) FrameMessage {
	return FrameMessage{
		Type:     "frame",
		StreamID: streamID,
		Frame:    base64.StdEncoding.EncodeToString(jpeg),
	}
}

// NewStatusMessage builds the connect-time status message.
func NewStatusMessage(streamID, message string) StatusMessage {
	return StatusMessage{
		Type:      "status",
		StreamID:  streamID,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// NewClassificationUpdate builds an update from a completed detection.
func NewClassificationUpdate(res pipeline.DetectionResult) ClassificationUpdate {
	return ClassificationUpdate{
		Type:      "classification_update",
		StreamID:  res.StreamID,
		Timestamp: res.AnalyzedAt,
		Result:    string(res.Result),
		Location:  res.Location,
	}
}

// NewAccidentAlert builds an alert from an accident detection and the
// frame it was classified on.
func NewAccidentAlert(res pipeline.DetectionResult, frame pipeline.Frame) AccidentAlert {
	var desc *string
	if res.Description != "" {
		desc = &res.Description
	}
	return AccidentAlert{
		Type:        "accident_alert",
		StreamID:    res.StreamID,
		Timestamp:   res.AnalyzedAt,
		Location:    res.Location,
		Description: desc,
		Frame:       base64.StdEncoding.EncodeToString(frame.Data),
	}
}

// NewCombinedSnapshot merges the current frame and detection caches into
// the legacy message. frame may be nil before the first frame; detection
// absence renders as initializing.
func NewCombinedSnapshot(location string, frame *pipeline.Frame, res pipeline.DetectionResult, haveDetection bool) CombinedSnapshot {
	snap := CombinedSnapshot{
		Detection: CombinedDetection{
			Status:   string(pipeline.StatusInitializing),
			Result:   string(pipeline.LabelSafe),
			Location: location,
		},
	}
	if frame != nil {
		b64 := base64.StdEncoding.EncodeToString(frame.Data)
		snap.Frame = &b64
	}
	if haveDetection {
		snap.Detection.Status = string(res.Status)
		snap.Detection.Result = string(res.Result)
		if res.Description != "" {
			snap.Detection.Description = &res.Description
		}
		if !res.AnalyzedAt.IsZero() {
			t := res.AnalyzedAt
			snap.Detection.Timestamp = &t
		}
		snap.Detection.ErrorMessage = res.ErrorMessage
	}
	return snap
}
