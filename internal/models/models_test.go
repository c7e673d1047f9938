package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMethod(t *testing.T) {
	m, ok := ParseMethod(" patch ")
	assert.True(t, ok)
	assert.Equal(t, MethodPatch, m)

	_, ok = ParseMethod("TRACE")
	assert.False(t, ok)
}

func TestPriorityRank(t *testing.T) {
	assert.Less(t, PriorityHigh.Rank(), PriorityNormal.Rank())
	assert.Less(t, PriorityNormal.Rank(), PriorityLow.Rank())
	assert.False(t, Priority("urgent").Valid())
}

func TestCopyHeadersDropsAuthorization(t *testing.T) {
	out := CopyHeaders(map[string]string{
		"authorization": "Bearer x",
		"X-Trace":       "abc",
	})
	assert.Equal(t, map[string]string{"X-Trace": "abc"}, out)

	assert.Nil(t, CopyHeaders(map[string]string{"Authorization": "Bearer x"}))
	assert.Nil(t, CopyHeaders(nil))
}

func TestQueuedOperation_Clone(t *testing.T) {
	op := &QueuedOperation{
		ID:      "a",
		Body:    json.RawMessage(`{"n":1}`),
		Headers: map[string]string{"X-A": "1"},
	}
	cp := op.Clone()
	cp.Body[2] = 'x'
	cp.Headers["X-A"] = "2"

	assert.Equal(t, `{"n":1}`, string(op.Body))
	assert.Equal(t, "1", op.Headers["X-A"])
	assert.Nil(t, (*QueuedOperation)(nil).Clone())
}
