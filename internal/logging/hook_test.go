package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallbackHook_ForwardsEventsAtOrAboveMinimum(t *testing.T) {
	var events []Event
	logger := NewWithOutput(DebugLevel, &bytes.Buffer{})
	logger.AddHook(NewCallbackHook(WarnLevel, func(e Event) {
		events = append(events, e)
	}))

	named := logger.Named("forward")
	named.Debug("dropped")
	named.Info("dropped too")
	named.Warn("dial failed")
	logger.Error("plain error")

	require.Len(t, events, 2)
	assert.Equal(t, Event{Level: WarnLevel, Target: "forward", Message: "dial failed"}, events[0])
	assert.Equal(t, Event{Level: ErrorLevel, Target: DefaultTarget, Message: "plain error"}, events[1])
}

func TestCallbackHook_RespectsLoggerLevel(t *testing.T) {
	var count int
	logger := NewWithOutput(ErrorLevel, &bytes.Buffer{})
	logger.AddHook(NewCallbackHook(DebugLevel, func(Event) { count++ }))

	logger.Info("filtered by logger")
	logger.Error("delivered")

	assert.Equal(t, 1, count)
}

func TestContext_RoundTrip(t *testing.T) {
	logger := NewWithOutput(InfoLevel, &bytes.Buffer{})
	ctx := WithContext(context.Background(), logger)

	assert.Same(t, logger, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}
