package pipeline

import (
	"sync/atomic"
	"time"
)

// sourceHealth derives a StreamStatus from frame arrival times.
//
// A stream is "success" while a frame arrived within the liveness window,
// "degraded" once frames stop (or fetches fail before the first frame),
// and "error" only when the decode process cannot be started at all.
// All fields are atomics; Status is read by the discovery surface while
// the capture loop writes.
type sourceHealth struct {
	liveness  time.Duration
	lastFrame atomic.Int64 // unix nanos, 0 = no frame ever
	failing   atomic.Bool  // current fetch/decode attempt failing
	fatal     atomic.Bool  // decode process could not be started
}

func newSourceHealth(liveness time.Duration) *sourceHealth {
	return &sourceHealth{liveness: liveness}
}

func (h *sourceHealth) markFrame(t time.Time) {
	h.lastFrame.Store(t.UnixNano())
	h.failing.Store(false)
	h.fatal.Store(false)
}

func (h *sourceHealth) markFailure() {
	h.failing.Store(true)
}

func (h *sourceHealth) markFatal() {
	h.fatal.Store(true)
}

func (h *sourceHealth) lastFrameAt() (time.Time, bool) {
	ns := h.lastFrame.Load()
	if ns == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}

func (h *sourceHealth) status() StreamStatus {
	if h.fatal.Load() {
		return StreamError
	}
	last, ok := h.lastFrameAt()
	if !ok {
		if h.failing.Load() {
			return StreamDegraded
		}
		return StreamInitializing
	}
	if time.Since(last) <= h.liveness {
		return StreamSuccess
	}
	return StreamDegraded
}
