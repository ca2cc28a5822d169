package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jpegBytes(payload ...byte) []byte {
	frame := []byte{0xFF, 0xD8}
	frame = append(frame, payload...)
	return append(frame, 0xFF, 0xD9)
}

func TestExtractJPEGFrame(t *testing.T) {
	first := jpegBytes(0x01)
	second := jpegBytes(0x02)

	buffer := append(append([]byte{}, first...), second...)

	got := extractJPEGFrame(&buffer)
	require.NotNil(t, got)
	assert.Equal(t, first, got)

	got = extractJPEGFrame(&buffer)
	require.NotNil(t, got)
	assert.Equal(t, second, got)

	assert.Nil(t, extractJPEGFrame(&buffer))
}

func TestExtractJPEGFrameIncomplete(t *testing.T) {
	buffer := []byte{0xFF, 0xD8, 0x01, 0x02, 0x03}
	assert.Nil(t, extractJPEGFrame(&buffer), "no EOI yet")
	assert.Len(t, buffer, 5, "partial data stays buffered")

	buffer = append(buffer, 0xFF, 0xD9)
	got := extractJPEGFrame(&buffer)
	require.NotNil(t, got)
	assert.Len(t, got, 7)
}

func TestExtractJPEGFrameSkipsGarbagePrefix(t *testing.T) {
	frame := jpegBytes(0xAB)
	buffer := append([]byte{0x00, 0x11, 0x22}, frame...)

	got := extractJPEGFrame(&buffer)
	require.NotNil(t, got)
	assert.Equal(t, frame, got)
}

func TestExtractJPEGFrameReturnsCopy(t *testing.T) {
	buffer := jpegBytes(0x01)
	got := extractJPEGFrame(&buffer)
	require.NotNil(t, got)

	// Appending to the drained buffer must not corrupt the extracted frame.
	snapshot := append([]byte{}, got...)
	buffer = append(buffer, 0xFF, 0xFF, 0xFF)
	assert.Equal(t, snapshot, got)
	assert.Len(t, buffer, 3)
}

func TestExtractJPEGFrameBoundsGarbage(t *testing.T) {
	// A corrupt feed with no SOI must not accumulate in the buffer.
	buffer := make([]byte, 4096)
	assert.Nil(t, extractJPEGFrame(&buffer))
	assert.Len(t, buffer, 1)

	// Garbage before a started-but-unfinished frame is discarded too.
	buffer = append([]byte{0x00, 0x11, 0x22}, 0xFF, 0xD8, 0x01)
	assert.Nil(t, extractJPEGFrame(&buffer))
	assert.Equal(t, []byte{0xFF, 0xD8, 0x01}, buffer)
}

func TestExtractJPEGFrameSOISplitAcrossReads(t *testing.T) {
	buffer := []byte{0x00, 0x00, 0x00, 0xFF}
	require.Nil(t, extractJPEGFrame(&buffer))
	require.Equal(t, []byte{0xFF}, buffer, "possible marker start survives the trim")

	buffer = append(buffer, 0xD8, 0x01, 0xFF, 0xD9)
	got := extractJPEGFrame(&buffer)
	require.NotNil(t, got)
	assert.Equal(t, []byte{0xFF, 0xD8, 0x01, 0xFF, 0xD9}, got)
}

func TestSourceHealthTransitions(t *testing.T) {
	h := newSourceHealth(100 * time.Millisecond)

	assert.Equal(t, StreamInitializing, h.status())

	h.markFailure()
	assert.Equal(t, StreamDegraded, h.status(), "failing before any frame")

	h.markFrame(time.Now())
	assert.Equal(t, StreamSuccess, h.status())

	h.markFrame(time.Now().Add(-time.Second))
	assert.Equal(t, StreamDegraded, h.status(), "stale last frame")

	h.markFatal()
	assert.Equal(t, StreamError, h.status())

	// A frame clears the fatal flag after a successful restart.
	h.markFrame(time.Now())
	assert.Equal(t, StreamSuccess, h.status())
}
