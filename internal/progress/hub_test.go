package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu         sync.Mutex
	events     []Event
	consumeErr error
	closeErr   error
	closed     int
}

func (c *captureSink) Consume(ctx context.Context, batch []Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("missing deadline")
	}
	c.events = append(c.events, batch...)
	return c.consumeErr
}

func (c *captureSink) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return c.closeErr
}

func validEvent(stage Stage) Event {
	evt := Event{RunID: "run-1", TS: time.Now(), Stage: stage, Page: 4}
	switch stage {
	case StagePageFailed:
		evt.Reason = "transport-error"
	case StageRunDone:
		evt.Outcome = "completed"
	}
	return evt
}

func TestHubDeliversInOrderToEverySink(t *testing.T) {
	a, b := &captureSink{}, &captureSink{}
	hub := NewHub(Config{}, a, nil, b)

	hub.Emit(validEvent(StageRunStart))
	hub.Emit(validEvent(StagePageCommitted))
	hub.Emit(validEvent(StageRunDone))

	for _, sink := range []*captureSink{a, b} {
		require.Len(t, sink.events, 3)
		require.Equal(t, StageRunStart, sink.events[0].Stage)
		require.Equal(t, StageRunDone, sink.events[2].Stage)
	}
}

func TestHubDropsInvalidEvents(t *testing.T) {
	sink := &captureSink{}
	hub := NewHub(Config{}, sink)

	hub.Emit(Event{Stage: StageRunStart})
	hub.Emit(Event{RunID: "r", TS: time.Now(), Stage: StagePageFailed, Page: 2})
	require.Empty(t, sink.events)
}

func TestHubSinkErrorDoesNotStopOthers(t *testing.T) {
	bad := &captureSink{consumeErr: errors.New("boom")}
	good := &captureSink{}
	hub := NewHub(Config{}, bad, good)

	hub.Emit(validEvent(StagePageCommitted))
	require.Len(t, good.events, 1)
}

func TestHubCloseOnce(t *testing.T) {
	a := &captureSink{closeErr: errors.New("flush failed")}
	b := &captureSink{}
	hub := NewHub(Config{}, a, b)

	err := hub.Close(context.Background())
	require.ErrorContains(t, err, "flush failed")
	require.NoError(t, hub.Close(context.Background()))
	require.Equal(t, 1, a.closed)
	require.Equal(t, 1, b.closed)

	hub.Emit(validEvent(StageRunStart))
	require.Empty(t, b.events)
}

func TestNilHubIsSafe(t *testing.T) {
	var hub *Hub
	hub.Emit(validEvent(StageRunStart))
	require.NoError(t, hub.Close(context.Background()))
}

func TestEventValidate(t *testing.T) {
	require.NoError(t, validEvent(StageRunStart).Validate())
	require.NoError(t, validEvent(StagePageFailed).Validate())

	evt := validEvent(StagePageCommitted)
	evt.Page = 0
	require.Error(t, evt.Validate())

	evt = validEvent(StageRunDone)
	evt.Outcome = ""
	require.Error(t, evt.Validate())

	evt = validEvent(StageRunStart)
	evt.Dur = -time.Second
	require.Error(t, evt.Validate())

	evt = validEvent("BOGUS")
	require.Error(t, evt.Validate())
}

func TestClassifyStatus(t *testing.T) {
	require.Equal(t, Status2xx, ClassifyStatus(200))
	require.Equal(t, Status3xx, ClassifyStatus(301))
	require.Equal(t, Status4xx, ClassifyStatus(429))
	require.Equal(t, Status5xx, ClassifyStatus(503))
	require.Equal(t, StatusOther, ClassifyStatus(0))
}
