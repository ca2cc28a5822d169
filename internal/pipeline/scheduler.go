package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"crashwatch/internal/cache"
)

// analysisQueueCap is the bounded, deliberately lossy hand-off between
// sampling and classification. Small on purpose: a queued sample is
// already going stale.
const analysisQueueCap = 2

// Scheduler samples the frame cache at the stream's analysis rate and
// offers fresh frames to the bounded analysis queue. It never blocks
// frame acquisition: a full queue drops the new sample, sacrificing
// analysis freshness before throughput.
type Scheduler struct {
	streamID string
	location string
	interval time.Duration
	liveness time.Duration

	frames     *cache.Latest[Frame]
	detections *cache.Latest[DetectionResult]
	queue      chan Frame

	lastOffered time.Time

	offered    atomic.Uint64
	dropped    atomic.Uint64
	staleSkips atomic.Uint64
}

// NewScheduler creates a scheduler ticking once per 1/analysisFPS.
// liveness is the window after which a stalled frame cache is surfaced
// as status no_frame.
func NewScheduler(streamID, location string, analysisFPS float64, liveness time.Duration,
	frames *cache.Latest[Frame], detections *cache.Latest[DetectionResult]) *Scheduler {
	return &Scheduler{
		streamID:   streamID,
		location:   location,
		interval:   time.Duration(float64(time.Second) / analysisFPS),
		liveness:   liveness,
		frames:     frames,
		detections: detections,
		queue:      make(chan Frame, analysisQueueCap),
	}
}

// Queue is the bounded analysis queue drained by the worker pool.
func (s *Scheduler) Queue() <-chan Frame { return s.queue }

// Stats returns sampling counters.
func (s *Scheduler) Stats() SchedulerStats {
	return SchedulerStats{
		SamplesOffered: s.offered.Load(),
		SamplesDropped: s.dropped.Load(),
		StaleSkips:     s.staleSkips.Load(),
	}
}

// Run samples until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

func (s *Scheduler) tick(now time.Time) {
	frame, ok := s.frames.Get()
	if !ok {
		// No frame has ever arrived; the detection cache stays at
		// its initializing state.
		return
	}

	if !frame.CapturedAt.After(s.lastOffered) {
		// Same frame as last offered: the source has stalled. Skip
		// rather than reanalyze a stale duplicate, and surface
		// no_frame once the stall outlasts the liveness window.
		s.staleSkips.Add(1)
		if now.Sub(frame.CapturedAt) > s.liveness {
			s.markNoFrame(now)
		}
		return
	}

	select {
	case s.queue <- frame.Clone():
		s.lastOffered = frame.CapturedAt
		s.offered.Add(1)
	default:
		// Queue full: load shedding, not an error. The worker is
		// still busy with an older sample; this one is superseded
		// by the next tick anyway.
		s.dropped.Add(1)
	}
}

// markNoFrame flips the detection status to no_frame while keeping the
// last classification outcome visible.
func (s *Scheduler) markNoFrame(now time.Time) {
	res, ok := s.detections.Get()
	if !ok {
		res = DetectionResult{
			StreamID: s.streamID,
			Location: s.location,
			Result:   LabelSafe,
		}
	}
	if res.Status == StatusNoFrame {
		return
	}
	res.Status = StatusNoFrame
	res.AnalyzedAt = now.UTC()
	res.ErrorMessage = ""
	s.detections.Set(res)
}
