package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crashwatch/internal/cache"
)

func TestFallbackPollCachesFrame(t *testing.T) {
	image := jpegBytes(0x10, 0x20)
	var sawNocache bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawNocache = r.URL.Query().Get("nocache") != ""
		w.Write(image)
	}))
	defer server.Close()

	frames := &cache.Latest[Frame]{}
	s := NewFallbackSource("cam-1", []string{server.URL}, time.Second, frames)

	s.poll(context.Background())

	frame, ok := frames.Get()
	require.True(t, ok)
	assert.Equal(t, image, frame.Data)
	assert.Equal(t, "cam-1", frame.StreamID)
	assert.True(t, sawNocache, "cache buster must be appended")
	assert.Equal(t, StreamSuccess, s.Status())
	assert.Equal(t, uint64(1), s.Stats().FramesCaptured)
}

func TestFallbackRoundRobin(t *testing.T) {
	var mu sync.Mutex
	hits := map[string]int{}
	handler := func(name string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			hits[name]++
			mu.Unlock()
			w.Write(jpegBytes(0x01))
		}
	}
	a := httptest.NewServer(handler("a"))
	defer a.Close()
	b := httptest.NewServer(handler("b"))
	defer b.Close()

	frames := &cache.Latest[Frame]{}
	s := NewFallbackSource("cam-1", []string{a.URL, b.URL}, time.Second, frames)

	for i := 0; i < 4; i++ {
		s.poll(context.Background())
	}

	assert.Equal(t, 2, hits["a"])
	assert.Equal(t, 2, hits["b"])
}

func TestFallbackRejectsNonJPEG(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not found</html>"))
	}))
	defer server.Close()

	frames := &cache.Latest[Frame]{}
	s := NewFallbackSource("cam-1", []string{server.URL}, time.Second, frames)

	s.poll(context.Background())

	_, ok := frames.Get()
	assert.False(t, ok)
	assert.Equal(t, uint64(1), s.Stats().FetchFailures)
	assert.Equal(t, StreamDegraded, s.Status())
}

func TestFallbackHTTPErrorDegrades(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	frames := &cache.Latest[Frame]{}
	s := NewFallbackSource("cam-1", []string{server.URL}, time.Second, frames)

	s.poll(context.Background())
	_, ok := frames.Get()
	assert.False(t, ok)
	assert.Equal(t, StreamDegraded, s.Status())
}

func TestFallbackRecoversAfterFailure(t *testing.T) {
	var fail bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write(jpegBytes(0x01))
	}))
	defer server.Close()

	frames := &cache.Latest[Frame]{}
	s := NewFallbackSource("cam-1", []string{server.URL}, time.Second, frames)

	fail = true
	s.poll(context.Background())
	assert.Equal(t, StreamDegraded, s.Status())

	fail = false
	s.poll(context.Background())
	assert.Equal(t, StreamSuccess, s.Status())
	assert.Equal(t, uint64(1), s.Stats().FetchFailures)
	assert.Equal(t, uint64(1), s.Stats().FramesCaptured)
}

func TestFallbackNoSourcesIsFatal(t *testing.T) {
	frames := &cache.Latest[Frame]{}
	s := NewFallbackSource("cam-1", nil, 10*time.Millisecond, frames)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	assert.Equal(t, StreamError, s.Status())
}
