package inference

import (
	"fmt"
	"sync/atomic"
)

// OnnxPool spreads Predict calls round-robin over several clients, each with
// its own session and batching loop.
type OnnxPool struct {
	clients []*OnnxClient
	rr      atomic.Uint64
}

func NewOnnxPool(modelPath string, sessions int, cfg OnnxClientConfig) (*OnnxPool, error) {
	if sessions <= 0 {
		sessions = 1
	}

	clients := make([]*OnnxClient, 0, sessions)
	for i := 0; i < sessions; i++ {
		c, err := NewOnnxClient(modelPath, cfg)
		if err != nil {
			for _, created := range clients {
				_ = created.Close()
			}
			return nil, fmt.Errorf("create onnx client %d/%d: %w", i+1, sessions, err)
		}
		clients = append(clients, c)
	}
	return &OnnxPool{clients: clients}, nil
}

func (p *OnnxPool) Predict(input []float32) ([]float32, error) {
	if len(p.clients) == 0 {
		return nil, fmt.Errorf("onnx pool has no clients")
	}
	idx := int((p.rr.Add(1) - 1) % uint64(len(p.clients)))
	return p.clients[idx].Predict(input)
}

func (p *OnnxPool) Stats() RuntimeStats {
	var agg RuntimeStats
	for _, c := range p.clients {
		st := c.Stats()
		agg.TotalBatches += st.TotalBatches
		agg.TotalItems += st.TotalItems
		agg.TotalRunNanos += st.TotalRunNanos
		agg.QueueLen += st.QueueLen
		if st.LastBatchSize > agg.LastBatchSize {
			agg.LastBatchSize = st.LastBatchSize
		}
	}
	if agg.TotalBatches > 0 {
		agg.AvgBatchSize = float64(agg.TotalItems) / float64(agg.TotalBatches)
		agg.AvgRunMs = (float64(agg.TotalRunNanos) / 1e6) / float64(agg.TotalBatches)
	}
	return agg
}

func (p *OnnxPool) Close() error {
	var firstErr error
	for _, c := range p.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
