package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	assert.NotPanics(t, func() {
		IncHTTP("test_endpoint")
		IncRequest("GET", "ok")
		IncRetry("GET")
		IncSynced("success")
	})
}

func TestQueueLengthGauge(t *testing.T) {
	SetQueueLength(7)
	assert.Equal(t, 7.0, testutil.ToFloat64(queueLength))
	SetQueueLength(0)
	assert.Equal(t, 0.0, testutil.ToFloat64(queueLength))
}

func TestDroppedCounter(t *testing.T) {
	before := testutil.ToFloat64(dropped.WithLabelValues("capacity"))
	IncDropped("capacity")
	assert.Equal(t, before+1, testutil.ToFloat64(dropped.WithLabelValues("capacity")))
}
