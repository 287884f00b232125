package nats

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	events []*Event
	err    error
}

func (s *recordingSink) PublishEvent(e *Event) error {
	s.events = append(s.events, e)
	return s.err
}

func TestEvent_SubjectAndMarshal(t *testing.T) {
	e := NewEvent(EventOrderUpdate, "trace-1", map[string]any{"order_id": "o-1", "status": "filled"})

	assert.Equal(t, "copytrade.events.order_update", e.Subject("copytrade.events"))
	assert.Equal(t, "order_update", e.Subject(""))

	data, err := e.Marshal()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "order_update", decoded["type"])
	assert.Equal(t, "trace-1", decoded["trace_id"])
	assert.Equal(t, "filled", decoded["data"].(map[string]any)["status"])
	assert.NotZero(t, decoded["timestamp"])
}

func TestEmit_BestEffort(t *testing.T) {
	// nil sink 不应 panic
	Emit(nil, NewEvent(EventDecision, "", nil))

	sink := &recordingSink{err: errors.New("nats down")}
	Emit(sink, NewEvent(EventDecision, "t", nil))
	assert.Len(t, sink.events, 1)
}

func TestNewPublisher_Unreachable(t *testing.T) {
	_, err := NewPublisher("nats://127.0.0.1:1", "copytrade.events")
	assert.Error(t, err)
}
