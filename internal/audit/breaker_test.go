package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakySink struct {
	err    error
	writes int
}

func (f *flakySink) Write(context.Context, Event) error {
	f.writes++
	return f.err
}

func TestBreaker(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	down := errors.New("broker unreachable")
	sink := &flakySink{err: down}

	b := NewBreaker(sink, 2, time.Minute, nil)
	b.now = func() time.Time { return clock }

	assert.ErrorIs(t, b.Write(ctx, Event{}), down)
	assert.False(t, b.IsOpen())
	assert.ErrorIs(t, b.Write(ctx, Event{}), down)
	require.True(t, b.IsOpen())

	assert.ErrorIs(t, b.Write(ctx, Event{}), ErrCircuitOpen)
	assert.Equal(t, 2, sink.writes, "open circuit must not reach the sink")

	clock = clock.Add(time.Minute)
	assert.False(t, b.IsOpen())
	assert.ErrorIs(t, b.Write(ctx, Event{}), down, "trial write after cooldown")
	assert.True(t, b.IsOpen(), "failed trial write reopens")

	clock = clock.Add(time.Minute)
	sink.err = nil
	require.NoError(t, b.Write(ctx, Event{}))
	assert.False(t, b.IsOpen())

	sink.err = down
	assert.ErrorIs(t, b.Write(ctx, Event{}), down)
	assert.False(t, b.IsOpen(), "success reset the failure count")
}
