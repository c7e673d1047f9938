package client

import "sync/atomic"

// Stats counts facade calls since construction or the last reset.
type Stats struct {
	TotalRequests  int64   `json:"total_requests"`
	FailedRequests int64   `json:"failed_requests"`
	QueuedRequests int64   `json:"queued_requests"`
	SuccessRate    float64 `json:"success_rate"`
}

type counters struct {
	total  atomic.Int64
	failed atomic.Int64
	queued atomic.Int64
}

func (c *counters) snapshot() Stats {
	s := Stats{
		TotalRequests:  c.total.Load(),
		FailedRequests: c.failed.Load(),
		QueuedRequests: c.queued.Load(),
	}
	s.SuccessRate = 100
	if s.TotalRequests > 0 {
		s.SuccessRate = float64(s.TotalRequests-s.FailedRequests) / float64(s.TotalRequests) * 100
	}
	return s
}

func (c *counters) reset() {
	c.total.Store(0)
	c.failed.Store(0)
	c.queued.Store(0)
}
