package history

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	closed bool
}

func (m *memSink) Send(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return m.err
}

func (m *memSink) Close() error {
	m.closed = true
	return nil
}

func TestEmitterFansOut(t *testing.T) {
	a, b := &memSink{}, &memSink{err: errors.New("down")}
	em := NewEmitter(nil, a, b)
	em.Emit(NewEvent(EventAttach, Record{PID: 101, Session: "App - attach"}))
	em.Emit(NewEvent(EventDisconnect, Record{PID: 101}))
	require.NoError(t, em.Close())

	assert.Len(t, a.events, 2)
	assert.Len(t, b.events, 2, "a failing sink still receives every event")
	assert.True(t, a.closed)
	assert.True(t, b.closed)

	em.Emit(NewEvent(EventAttach, Record{}))
	assert.Len(t, a.events, 2, "emit after close is dropped")
}

func TestNilEmitter(t *testing.T) {
	var em *Emitter
	em.Emit(NewEvent(EventAttach, Record{}))
	assert.NoError(t, em.Close())
}

func TestNewEventUTC(t *testing.T) {
	e := NewEvent(EventTaskStart, Record{TaskID: "t"})
	assert.Equal(t, EventTaskStart, e.Type)
	assert.Equal(t, "UTC", e.OccurredAt.Location().String())
}
