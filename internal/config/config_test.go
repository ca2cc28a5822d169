package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
vision:
  mock: true
streams:
  - id: cam-1
    url: https://example.com/stream.m3u8
    location: Main St
`))
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Listen)
	assert.Equal(t, "data/crashwatch.db", cfg.Database)
	assert.Equal(t, "logs/accidents.log", cfg.AccidentLog)

	require.Len(t, cfg.Streams, 1)
	s := cfg.Streams[0]
	assert.Equal(t, 30, s.StreamFPS)
	assert.InDelta(t, 1.0, s.AnalysisFPS, 1e-9)
	assert.Equal(t, 1, s.Workers)
}

func TestParseExplicitValues(t *testing.T) {
	cfg, err := Parse([]byte(`
listen: ":9000"
vision:
  endpoint: https://api.together.xyz/v1/chat/completions
  model: meta-llama/Llama-Vision
  api_key_env: VISION_API_KEY
fallback:
  sources:
    - https://cams.example.com/a.jpg
  interval_seconds: 3
streams:
  - id: cam-1
    url: https://example.com/stream.m3u8
    location: Main St
    stream_fps: 15
    analysis_fps: 0.5
    workers: 2
`))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, 3*time.Second, cfg.Fallback.Interval())
	assert.Equal(t, 15, cfg.Streams[0].StreamFPS)
	assert.InDelta(t, 0.5, cfg.Streams[0].AnalysisFPS, 1e-9)
	assert.Equal(t, 2, cfg.Streams[0].Workers)
}

func TestParseRejectsDuplicateStreamIDs(t *testing.T) {
	_, err := Parse([]byte(`
vision:
  mock: true
streams:
  - id: cam-1
    url: https://a
  - id: cam-1
    url: https://b
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate stream id")
}

func TestParseRejectsStreamWithoutSource(t *testing.T) {
	_, err := Parse([]byte(`
vision:
  mock: true
streams:
  - id: cam-1
    location: Main St
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no url")
}

func TestParseFallbackOnlyStream(t *testing.T) {
	cfg, err := Parse([]byte(`
vision:
  mock: true
fallback:
  sources:
    - https://cams.example.com/a.jpg
streams:
  - id: cam-1
    location: Main St
`))
	require.NoError(t, err)
	assert.Empty(t, cfg.Streams[0].URL)
}

func TestParseRequiresVisionEndpoint(t *testing.T) {
	_, err := Parse([]byte(`
streams: []
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vision endpoint")
}

func TestVisionAPIKeyFromEnv(t *testing.T) {
	t.Setenv("TEST_VISION_KEY", "s3cret")

	v := VisionConfig{APIKeyEnv: "TEST_VISION_KEY"}
	assert.Equal(t, "s3cret", v.APIKey())

	assert.Empty(t, VisionConfig{}.APIKey())
}

func TestFallbackIntervalDefault(t *testing.T) {
	assert.Equal(t, 5*time.Second, FallbackConfig{}.Interval())
}
