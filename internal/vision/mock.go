package vision

import (
	"context"
	"math/rand"
	"sync"

	"crashwatch/internal/pipeline"
)

// Mock is a stand-in vision service for development and tests, so the
// full pipeline can run without spending API quota. It labels a random
// fraction of frames as accidents.
type Mock struct {
	mu           sync.Mutex
	rng          *rand.Rand
	accidentRate float64
}

// NewMock creates a mock service. accidentRate is the probability a
// frame is labeled accident; values outside (0,1] fall back to 0.2.
func NewMock(seed int64, accidentRate float64) *Mock {
	if accidentRate <= 0 || accidentRate > 1 {
		accidentRate = 0.2
	}
	return &Mock{
		rng:          rand.New(rand.NewSource(seed)),
		accidentRate: accidentRate,
	}
}

func (m *Mock) Classify(ctx context.Context, jpeg []byte) (pipeline.Label, error) {
	if err := ctx.Err(); err != nil {
		return "", &ServiceError{Op: "classify", Err: err}
	}
	m.mu.Lock()
	hit := m.rng.Float64() < m.accidentRate
	m.mu.Unlock()
	if hit {
		return pipeline.LabelAccident, nil
	}
	return pipeline.LabelSafe, nil
}

func (m *Mock) Describe(ctx context.Context, jpeg []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &ServiceError{Op: "describe", Err: err}
	}
	return "Simulated accident generated by the mock vision service.", nil
}

var _ pipeline.VisionService = (*Mock)(nil)
