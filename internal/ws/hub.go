// Package ws implements the per-stream broadcast hub and its WebSocket
// transport. Each connected subscriber belongs to exactly one channel
// kind and gets its own delivery loop, so a slow consumer on one channel
// can never stall another subscriber or the producing pipeline.
package ws

import (
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"crashwatch/internal/cache"
	"crashwatch/internal/pipeline"
)

// ChannelKind selects one of the three subscriber delivery contracts.
type ChannelKind string

const (
	// KindFrame delivers raw frames at the stream's configured rate.
	KindFrame ChannelKind = "frame"
	// KindAnalysis delivers classification updates and accident alerts.
	KindAnalysis ChannelKind = "analysis"
	// KindCombined delivers the legacy merged frame+detection snapshot
	// at a reduced fixed rate.
	KindCombined ChannelKind = "combined"
)

// combinedRateDivisor reduces the legacy channel to a third of the
// stream rate; it is a compatibility surface, not a live feed.
const combinedRateDivisor = 3

// Outbound buffer sizes per channel kind. The frame and combined
// channels keep a single pending message (latest wins, the next tick
// retries); the analysis channel buffers a short burst of events.
const (
	frameBuffer    = 1
	analysisBuffer = 16
	combinedBuffer = 1
)

// Hub fans out one stream's frames and detections to its subscribers.
type Hub struct {
	streamID string
	location string

	frameInterval    time.Duration
	combinedInterval time.Duration

	frames     *cache.Latest[pipeline.Frame]
	detections *cache.Latest[pipeline.DetectionResult]

	mu   sync.RWMutex
	subs map[uuid.UUID]*Subscriber
}

// NewHub creates a hub for one stream. streamFPS drives the frame
// channel tick; the combined channel runs at a third of it.
func NewHub(streamID, location string, streamFPS int,
	frames *cache.Latest[pipeline.Frame], detections *cache.Latest[pipeline.DetectionResult]) *Hub {
	if streamFPS <= 0 {
		streamFPS = 30
	}
	frameInterval := time.Second / time.Duration(streamFPS)
	return &Hub{
		streamID:         streamID,
		location:         location,
		frameInterval:    frameInterval,
		combinedInterval: frameInterval * combinedRateDivisor,
		frames:           frames,
		detections:       detections,
		subs:             make(map[uuid.UUID]*Subscriber),
	}
}

// Subscriber is one connected endpoint bound to a (stream, kind) pair.
// Messages flow through Out; the transport drains it and calls
// Unsubscribe when the connection ends.
type Subscriber struct {
	ID   uuid.UUID
	Kind ChannelKind

	hub  *Hub
	out  chan []byte
	done chan struct{}
	once sync.Once

	// lastSent is touched only by this subscriber's delivery loop.
	lastSent time.Time

	dropped atomic.Uint64
}

// Out is the subscriber's outbound message stream.
func (s *Subscriber) Out() <-chan []byte { return s.out }

// Done is closed when the subscriber is removed.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Dropped counts messages shed because this subscriber was slow.
func (s *Subscriber) Dropped() uint64 { return s.dropped.Load() }

// push offers a message without ever blocking the caller.
func (s *Subscriber) push(msg []byte) bool {
	if msg == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	case s.out <- msg:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Subscribe registers a new subscriber and starts its delivery loop.
func (h *Hub) Subscribe(kind ChannelKind) *Subscriber {
	buffer := frameBuffer
	switch kind {
	case KindAnalysis:
		buffer = analysisBuffer
	case KindCombined:
		buffer = combinedBuffer
	}

	sub := &Subscriber{
		ID:   uuid.New(),
		Kind: kind,
		hub:  h,
		out:  make(chan []byte, buffer),
		done: make(chan struct{}),
	}

	// The connect-time status message goes out before the subscriber is
	// visible to broadcasts, so no event can ever precede it.
	if kind == KindAnalysis {
		sub.push(marshal(NewStatusMessage(h.streamID, "connected")))
	}

	h.mu.Lock()
	h.subs[sub.ID] = sub
	total := len(h.subs)
	h.mu.Unlock()
	log.Printf("[Hub] %s: subscriber %s joined %s channel (total: %d)", h.streamID, sub.ID, kind, total)

	switch kind {
	case KindFrame:
		go sub.deliverFrames()
	case KindCombined:
		go sub.deliverCombined()
	}
	return sub
}

// Unsubscribe removes a subscriber and stops its delivery loop. Safe to
// call more than once; removing one subscriber never affects others.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	sub.once.Do(func() {
		close(sub.done)
		h.mu.Lock()
		delete(h.subs, sub.ID)
		total := len(h.subs)
		h.mu.Unlock()
		log.Printf("[Hub] %s: subscriber %s left %s channel (remaining: %d)", h.streamID, sub.ID, sub.Kind, total)
	})
}

// SubscriberCount returns the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close removes all subscribers, ending their delivery loops.
func (h *Hub) Close() {
	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.RUnlock()
	for _, s := range subs {
		h.Unsubscribe(s)
	}
}

// PublishClassification fans a completed classification out to analysis
// subscribers. Called by the worker pool for every successful result.
func (h *Hub) PublishClassification(res pipeline.DetectionResult) {
	h.broadcastAnalysis(marshal(NewClassificationUpdate(res)))
}

// PublishAccident fans an accident alert out to analysis subscribers.
func (h *Hub) PublishAccident(res pipeline.DetectionResult, frame pipeline.Frame) {
	h.broadcastAnalysis(marshal(NewAccidentAlert(res, frame)))
}

func (h *Hub) broadcastAnalysis(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if sub.Kind != KindAnalysis {
			continue
		}
		sub.push(msg)
	}
}

// deliverFrames ticks at the stream rate and sends the cached frame when
// it is newer than the last one sent to this subscriber. A full outbound
// buffer drops this tick's send and retries on the next; timestamps sent
// to one subscriber are therefore strictly increasing.
func (s *Subscriber) deliverFrames() {
	ticker := time.NewTicker(s.hub.frameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			frame, ok := s.hub.frames.Get()
			if !ok || !frame.CapturedAt.After(s.lastSent) {
				continue
			}
			msg := marshal(NewFrameMessage(s.hub.streamID, frame.Data))
			if s.push(msg) {
				s.lastSent = frame.CapturedAt
			}
		}
	}
}

// deliverCombined ticks at the reduced legacy rate and always sends the
// merged snapshot, changed or not.
func (s *Subscriber) deliverCombined() {
	ticker := time.NewTicker(s.hub.combinedInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.push(marshal(s.hub.combinedSnapshot()))
		}
	}
}

func (h *Hub) combinedSnapshot() CombinedSnapshot {
	var framePtr *pipeline.Frame
	if frame, ok := h.frames.Get(); ok {
		framePtr = &frame
	}
	res, haveRes := h.detections.Get()
	return NewCombinedSnapshot(h.location, framePtr, res, haveRes)
}

func marshal(v any) []byte {
	msg, err := json.Marshal(v)
	if err != nil {
		// Message types contain nothing unmarshalable; this guards
		// against future field mistakes.
		log.Printf("[Hub] marshal failed: %v", err)
		return nil
	}
	return msg
}
