package pipeline

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"crashwatch/internal/cache"
)

// WorkerConfig configures a classification worker pool for one stream.
type WorkerConfig struct {
	StreamID string
	Location string

	// Workers bounds in-flight vision service calls for this stream.
	// The default of 1 keeps detections strictly ordered; larger pools
	// trade ordering for throughput, with the detection cache resolving
	// races last-writer-wins.
	Workers int

	ClassifyTimeout time.Duration
	DescribeTimeout time.Duration
}

// WorkerPool drains the analysis queue and runs the two-step
// classify-then-describe pipeline against the vision service. Every
// completed result lands in the detection cache; successful
// classifications and accidents additionally flow to the event sink.
type WorkerPool struct {
	cfg        WorkerConfig
	queue      <-chan Frame
	vision     VisionService
	detections *cache.Latest[DetectionResult]
	sink       EventSink

	classifications atomic.Uint64
	accidents       atomic.Uint64
	errors          atomic.Uint64
}

// NewWorkerPool creates a pool reading from queue. sink may be nil when
// no broadcast side exists (tests, tooling).
func NewWorkerPool(cfg WorkerConfig, queue <-chan Frame, vision VisionService,
	detections *cache.Latest[DetectionResult], sink EventSink) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ClassifyTimeout <= 0 {
		cfg.ClassifyTimeout = 30 * time.Second
	}
	if cfg.DescribeTimeout <= 0 {
		cfg.DescribeTimeout = 30 * time.Second
	}
	return &WorkerPool{
		cfg:        cfg,
		queue:      queue,
		vision:     vision,
		detections: detections,
		sink:       sink,
	}
}

// Stats returns classification counters.
func (p *WorkerPool) Stats() WorkerStats {
	return WorkerStats{
		Classifications: p.classifications.Load(),
		Accidents:       p.accidents.Load(),
		Errors:          p.errors.Load(),
	}
}

// Run blocks until ctx is cancelled and all workers have drained.
func (p *WorkerPool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.work(ctx)
		}()
	}
	wg.Wait()
}

func (p *WorkerPool) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-p.queue:
			p.process(ctx, frame)
		}
	}
}

// process runs the two-stage decision pipeline on one sample. A failed
// classify is recorded and abandoned; the next scheduled sample
// supersedes it. A failed describe never suppresses the accident alert:
// the alert boundary is the classification, description is best-effort
// enrichment.
func (p *WorkerPool) process(ctx context.Context, frame Frame) {
	cctx, cancel := context.WithTimeout(ctx, p.cfg.ClassifyTimeout)
	label, err := p.vision.Classify(cctx, frame.Data)
	cancel()

	now := time.Now().UTC()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Printf("[Workers] %s: classify failed: %v", p.cfg.StreamID, err)
		p.detections.Set(DetectionResult{
			StreamID:     p.cfg.StreamID,
			Location:     p.cfg.Location,
			Status:       StatusError,
			Result:       LabelSafe,
			AnalyzedAt:   now,
			ErrorMessage: err.Error(),
		})
		p.errors.Add(1)
		return
	}

	res := DetectionResult{
		StreamID:   p.cfg.StreamID,
		Location:   p.cfg.Location,
		Status:     StatusSuccess,
		Result:     label,
		AnalyzedAt: now,
	}

	if label == LabelAccident {
		dctx, cancel := context.WithTimeout(ctx, p.cfg.DescribeTimeout)
		desc, derr := p.vision.Describe(dctx, frame.Data)
		cancel()
		if derr != nil {
			log.Printf("[Workers] %s: describe failed, alerting without description: %v", p.cfg.StreamID, derr)
		} else {
			res.Description = desc
		}
	}

	p.detections.Set(res)
	p.classifications.Add(1)

	if p.sink != nil {
		p.sink.OnClassification(res)
		if label == LabelAccident {
			p.sink.OnAccident(res, frame)
		}
	}
	if label == LabelAccident {
		p.accidents.Add(1)
	}
}
