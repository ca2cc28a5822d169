package ws

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crashwatch/internal/pipeline"
)

func decode(t *testing.T, v any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func TestFrameMessageShape(t *testing.T) {
	jpeg := []byte{0xFF, 0xD8, 0x01, 0xFF, 0xD9}
	m := decode(t, NewFrameMessage("cam-1", jpeg))

	assert.Equal(t, "frame", m["type"])
	assert.Equal(t, "cam-1", m["stream_id"])
	assert.Equal(t, base64.StdEncoding.EncodeToString(jpeg), m["frame"])
	assert.Len(t, m, 3)
}

func TestStatusMessageShape(t *testing.T) {
	m := decode(t, NewStatusMessage("cam-1", "connected"))

	assert.Equal(t, "status", m["type"])
	assert.Equal(t, "cam-1", m["stream_id"])
	assert.Equal(t, "connected", m["message"])
	assert.Contains(t, m, "timestamp")
	assert.Len(t, m, 4)
}

func TestClassificationUpdateShape(t *testing.T) {
	at := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	m := decode(t, NewClassificationUpdate(pipeline.DetectionResult{
		StreamID:   "cam-1",
		Location:   "Main St",
		Status:     pipeline.StatusSuccess,
		Result:     pipeline.LabelAccident,
		AnalyzedAt: at,
	}))

	assert.Equal(t, "classification_update", m["type"])
	assert.Equal(t, "cam-1", m["stream_id"])
	assert.Equal(t, "accident", m["result"])
	assert.Equal(t, "Main St", m["location"])
	assert.Equal(t, "2026-08-23T12:00:00Z", m["timestamp"])
	assert.Len(t, m, 5)
}

func TestAccidentAlertShape(t *testing.T) {
	frame := pipeline.Frame{Data: []byte{0xFF, 0xD8, 0xFF, 0xD9}}
	res := pipeline.DetectionResult{
		StreamID:    "cam-1",
		Location:    "Main St",
		Result:      pipeline.LabelAccident,
		Description: "two cars stopped",
		AnalyzedAt:  time.Now().UTC(),
	}
	m := decode(t, NewAccidentAlert(res, frame))

	assert.Equal(t, "accident_alert", m["type"])
	assert.Equal(t, "two cars stopped", m["description"])
	assert.Equal(t, base64.StdEncoding.EncodeToString(frame.Data), m["frame"])
	assert.Len(t, m, 6)
}

func TestAccidentAlertNullDescription(t *testing.T) {
	// Describe failed: the alert carries an explicit null, not an empty
	// string and not an omitted field.
	res := pipeline.DetectionResult{
		StreamID: "cam-1",
		Result:   pipeline.LabelAccident,
	}
	m := decode(t, NewAccidentAlert(res, pipeline.Frame{}))

	require.Contains(t, m, "description")
	assert.Nil(t, m["description"])
}

func TestCombinedSnapshotBeforeAnyData(t *testing.T) {
	m := decode(t, NewCombinedSnapshot("Main St", nil, pipeline.DetectionResult{}, false))

	require.Contains(t, m, "frame")
	assert.Nil(t, m["frame"])

	det, ok := m["detection"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "initializing", det["status"])
	assert.Equal(t, "safe", det["result"])
	assert.Nil(t, det["description"])
	assert.Nil(t, det["timestamp"])
	assert.Equal(t, "Main St", det["location"])
	assert.NotContains(t, det, "error_message")
}

func TestCombinedSnapshotMerged(t *testing.T) {
	frame := pipeline.Frame{Data: []byte{0xFF, 0xD8, 0xFF, 0xD9}, CapturedAt: time.Now()}
	res := pipeline.DetectionResult{
		StreamID:    "cam-1",
		Location:    "Main St",
		Status:      pipeline.StatusSuccess,
		Result:      pipeline.LabelAccident,
		Description: "pileup",
		AnalyzedAt:  time.Now().UTC(),
	}
	m := decode(t, NewCombinedSnapshot("Main St", &frame, res, true))

	assert.Equal(t, base64.StdEncoding.EncodeToString(frame.Data), m["frame"])
	det := m["detection"].(map[string]any)
	assert.Equal(t, "success", det["status"])
	assert.Equal(t, "accident", det["result"])
	assert.Equal(t, "pileup", det["description"])
	assert.NotNil(t, det["timestamp"])
}

func TestCombinedSnapshotError(t *testing.T) {
	res := pipeline.DetectionResult{
		StreamID:     "cam-1",
		Location:     "Main St",
		Status:       pipeline.StatusError,
		Result:       pipeline.LabelSafe,
		AnalyzedAt:   time.Now().UTC(),
		ErrorMessage: "vision classify: timeout",
	}
	m := decode(t, NewCombinedSnapshot("Main St", nil, res, true))

	det := m["detection"].(map[string]any)
	assert.Equal(t, "error", det["status"])
	assert.Equal(t, "vision classify: timeout", det["error_message"])
}
