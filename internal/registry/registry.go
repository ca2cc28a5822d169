// Package registry owns the per-stream processing pipelines. Each stream
// gets its own frame source, caches, scheduler, worker pool and broadcast
// hub; starting or stopping one stream never touches another.
package registry

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"crashwatch/internal/audit"
	"crashwatch/internal/cache"
	"crashwatch/internal/config"
	"crashwatch/internal/database"
	"crashwatch/internal/notify"
	"crashwatch/internal/pipeline"
	"crashwatch/internal/ws"
)

// Deps are the shared collaborators every stream pipeline uses.
type Deps struct {
	Vision   pipeline.VisionService
	Recorder *audit.Recorder  // optional accident audit sink
	Notifier *notify.Telegram // optional accident push
	Fallback config.FallbackConfig
}

// Registry holds all running streams.
type Registry struct {
	deps Deps

	mu      sync.RWMutex
	streams map[string]*Stream
}

// Stream is one running pipeline tuple.
type Stream struct {
	cfg config.StreamConfig

	frames     *cache.Latest[pipeline.Frame]
	detections *cache.Latest[pipeline.DetectionResult]
	source     pipeline.FrameSource
	scheduler  *pipeline.Scheduler
	pool       *pipeline.WorkerPool
	hub        *ws.Hub

	cancel context.CancelFunc
	done   sync.WaitGroup
}

// StreamSnapshot is a read-only view of one stream for the HTTP surface.
type StreamSnapshot struct {
	ID          string
	Location    string
	Status      pipeline.StreamStatus
	Subscribers int

	Source    pipeline.SourceStats
	Scheduler pipeline.SchedulerStats
	Workers   pipeline.WorkerStats

	Frame     *pipeline.Frame
	Detection *pipeline.DetectionResult
}

// New creates an empty registry.
func New(deps Deps) *Registry {
	return &Registry{
		deps:    deps,
		streams: make(map[string]*Stream),
	}
}

// Bootstrap merges the configured streams into the database and starts a
// pipeline for every persisted stream. Streams present only in the
// database (added on a previous run) are started too.
func (r *Registry) Bootstrap(ctx context.Context, cfg *config.Config, db *database.Database) error {
	for _, s := range cfg.Streams {
		rec := &database.StreamRecord{
			ID:          s.ID,
			URL:         s.URL,
			Location:    s.Location,
			StreamFPS:   s.StreamFPS,
			AnalysisFPS: s.AnalysisFPS,
			CreatedAt:   time.Now().UTC(),
		}
		if err := db.SaveStream(rec); err != nil {
			return fmt.Errorf("persist stream %s: %w", s.ID, err)
		}
	}

	records, err := db.ListStreams()
	if err != nil {
		return fmt.Errorf("list streams: %w", err)
	}

	configured := make(map[string]config.StreamConfig, len(cfg.Streams))
	for _, s := range cfg.Streams {
		configured[s.ID] = s
	}

	for _, rec := range records {
		sc, ok := configured[rec.ID]
		if !ok {
			sc = config.StreamConfig{
				ID:          rec.ID,
				URL:         rec.URL,
				Location:    rec.Location,
				StreamFPS:   rec.StreamFPS,
				AnalysisFPS: rec.AnalysisFPS,
				Workers:     1,
			}
		}
		if err := r.StartStream(ctx, sc); err != nil {
			return err
		}
	}
	return nil
}

// StartStream builds and starts the pipeline for one stream.
func (r *Registry) StartStream(ctx context.Context, sc config.StreamConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.streams[sc.ID]; exists {
		return fmt.Errorf("stream %s already running", sc.ID)
	}
	if sc.StreamFPS <= 0 {
		sc.StreamFPS = 30
	}
	if sc.AnalysisFPS <= 0 {
		sc.AnalysisFPS = 1
	}

	frames := &cache.Latest[pipeline.Frame]{}
	detections := &cache.Latest[pipeline.DetectionResult]{}

	var source pipeline.FrameSource
	var liveness time.Duration
	if sc.URL != "" {
		liveness = 2 * time.Second / time.Duration(sc.StreamFPS)
		// Stream feeds can pause briefly without being dead; never report
		// degraded in under a second.
		if liveness < time.Second {
			liveness = time.Second
		}
		source = pipeline.NewFFmpegSource(sc.ID, sc.URL, sc.StreamFPS, liveness, frames)
	} else {
		interval := r.deps.Fallback.Interval()
		liveness = 2 * interval
		source = pipeline.NewFallbackSource(sc.ID, r.deps.Fallback.Sources, interval, frames)
	}

	scheduler := pipeline.NewScheduler(sc.ID, sc.Location, sc.AnalysisFPS, liveness, frames, detections)
	hub := ws.NewHub(sc.ID, sc.Location, sc.StreamFPS, frames, detections)
	sink := &eventSink{
		hub:      hub,
		recorder: r.deps.Recorder,
		notifier: r.deps.Notifier,
	}
	pool := pipeline.NewWorkerPool(pipeline.WorkerConfig{
		StreamID: sc.ID,
		Location: sc.Location,
		Workers:  sc.Workers,
	}, scheduler.Queue(), r.deps.Vision, detections, sink)

	sctx, cancel := context.WithCancel(ctx)
	st := &Stream{
		cfg:        sc,
		frames:     frames,
		detections: detections,
		source:     source,
		scheduler:  scheduler,
		pool:       pool,
		hub:        hub,
		cancel:     cancel,
	}

	st.done.Add(3)
	go func() { defer st.done.Done(); source.Run(sctx) }()
	go func() { defer st.done.Done(); scheduler.Run(sctx) }()
	go func() { defer st.done.Done(); pool.Run(sctx) }()

	r.streams[sc.ID] = st
	log.Printf("[Registry] started stream %s (%s)", sc.ID, sc.Location)
	return nil
}

// StopStream stops one stream's pipeline and disconnects its
// subscribers. Other streams are unaffected.
func (r *Registry) StopStream(id string) error {
	r.mu.Lock()
	st, ok := r.streams[id]
	if ok {
		delete(r.streams, id)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("stream %s not running", id)
	}

	st.cancel()
	st.done.Wait()
	st.hub.Close()
	log.Printf("[Registry] stopped stream %s", id)
	return nil
}

// Shutdown stops all streams.
func (r *Registry) Shutdown() {
	for _, id := range r.IDs() {
		if err := r.StopStream(id); err != nil {
			log.Printf("[Registry] %v", err)
		}
	}
}

// IDs lists running stream IDs.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.streams))
	for id := range r.streams {
		ids = append(ids, id)
	}
	return ids
}

// Hub returns the broadcast hub for a stream. Used by the WebSocket
// handler's lookup.
func (r *Registry) Hub(id string) (*ws.Hub, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.streams[id]
	if !ok {
		return nil, false
	}
	return st.hub, true
}

// Snapshot returns a point-in-time view of one stream.
func (r *Registry) Snapshot(id string) (StreamSnapshot, bool) {
	r.mu.RLock()
	st, ok := r.streams[id]
	r.mu.RUnlock()
	if !ok {
		return StreamSnapshot{}, false
	}
	return st.snapshot(), true
}

// List returns snapshots for all running streams.
func (r *Registry) List() []StreamSnapshot {
	r.mu.RLock()
	streams := make([]*Stream, 0, len(r.streams))
	for _, st := range r.streams {
		streams = append(streams, st)
	}
	r.mu.RUnlock()

	out := make([]StreamSnapshot, 0, len(streams))
	for _, st := range streams {
		out = append(out, st.snapshot())
	}
	return out
}

func (st *Stream) snapshot() StreamSnapshot {
	snap := StreamSnapshot{
		ID:          st.cfg.ID,
		Location:    st.cfg.Location,
		Status:      st.source.Status(),
		Subscribers: st.hub.SubscriberCount(),
		Source:      st.source.Stats(),
		Scheduler:   st.scheduler.Stats(),
		Workers:     st.pool.Stats(),
	}
	if frame, ok := st.frames.Get(); ok {
		snap.Frame = &frame
	}
	if res, ok := st.detections.Get(); ok {
		snap.Detection = &res
	}
	return snap
}

// eventSink fans completed detections out to the broadcast hub, the
// audit trail and the notifier. Hub publishes are non-blocking by
// construction; notifier sends go through a goroutine so a slow
// messenger API never stalls a classification worker.
type eventSink struct {
	hub      *ws.Hub
	recorder *audit.Recorder
	notifier *notify.Telegram
}

func (e *eventSink) OnClassification(res pipeline.DetectionResult) {
	e.hub.PublishClassification(res)
}

func (e *eventSink) OnAccident(res pipeline.DetectionResult, frame pipeline.Frame) {
	e.hub.PublishAccident(res, frame)
	if e.recorder != nil {
		e.recorder.Record(res)
	}
	if e.notifier != nil && e.notifier.Enabled() {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := e.notifier.SendAccident(ctx, res.StreamID, res.Location, res.Description, frame.Data); err != nil {
				log.Printf("[Registry] %s: telegram notify failed: %v", res.StreamID, err)
			}
		}()
	}
}
