package pipeline

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"crashwatch/internal/cache"
)

// maxFallbackImageBytes bounds a single fetched still image.
const maxFallbackImageBytes = 8 << 20

// FallbackSource polls static camera images at a fixed low rate for
// streams without a usable continuous feed. Fetch failures mark the
// stream degraded, never fatal; there is no process to restart.
type FallbackSource struct {
	streamID string
	sources  []string
	interval time.Duration

	frames *cache.Latest[Frame]
	health *sourceHealth
	client *http.Client

	next     int
	seq      atomic.Uint64
	captured atomic.Uint64
	failures atomic.Uint64
}

// NewFallbackSource creates a polling source rotating round-robin over
// the configured still-image URLs.
func NewFallbackSource(streamID string, sources []string, interval time.Duration, frames *cache.Latest[Frame]) *FallbackSource {
	return &FallbackSource{
		streamID: streamID,
		sources:  sources,
		interval: interval,
		frames:   frames,
		health:   newSourceHealth(2 * interval),
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *FallbackSource) Status() StreamStatus { return s.health.status() }

func (s *FallbackSource) Stats() SourceStats {
	last, _ := s.health.lastFrameAt()
	var lastUnix int64
	if !last.IsZero() {
		lastUnix = last.Unix()
	}
	return SourceStats{
		FramesCaptured: s.captured.Load(),
		FetchFailures:  s.failures.Load(),
		LastFrameUnix:  lastUnix,
	}
}

// Run polls until ctx is cancelled. The first fetch happens immediately
// so subscribers do not wait a full interval for the initial frame.
func (s *FallbackSource) Run(ctx context.Context) {
	if len(s.sources) == 0 {
		log.Printf("[Source] %s: no fallback sources configured", s.streamID)
		s.health.markFatal()
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *FallbackSource) poll(ctx context.Context) {
	url := s.sources[s.next%len(s.sources)]
	s.next++

	data, err := s.fetch(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Printf("[Source] %s: fallback fetch failed: %v", s.streamID, err)
		s.health.markFailure()
		s.failures.Add(1)
		return
	}

	now := time.Now().UTC()
	s.frames.Set(Frame{
		StreamID:   s.streamID,
		Data:       data,
		Seq:        s.seq.Add(1),
		CapturedAt: now,
	})
	s.captured.Add(1)
	s.health.markFrame(now)
}

func (s *FallbackSource) fetch(ctx context.Context, url string) ([]byte, error) {
	// Cache buster: these endpoints serve a periodically replaced image
	// under a stable URL.
	busted := fmt.Sprintf("%s?nocache=%d", url, time.Now().Unix())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, busted, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFallbackImageBytes))
	if err != nil {
		return nil, err
	}
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return nil, fmt.Errorf("response from %s is not a JPEG", url)
	}
	return data, nil
}
