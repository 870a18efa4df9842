package testutil_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/TrialScope/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/TrialScope/internal/testutil"
)

func TestMockLogger(t *testing.T) {
	logger := testutil.NewMockLogger()

	logger.Info("test info", logging.String("key", "value"))

	messages := logger.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, logging.LevelInfo, messages[0].Level)
	assert.Equal(t, "test info", messages[0].Message)
	v, ok := messages[0].Field("key")
	assert.True(t, ok)
	assert.Equal(t, "value", v)

	logger.Clear()
	assert.Empty(t, logger.Messages())

	logger.Error("test error")
	assert.True(t, logger.HasMessage(logging.LevelError, "test error"))
	assert.False(t, logger.HasMessage(logging.LevelInfo, "test info"))
}

func TestMockLogger_ChildrenShareRecord(t *testing.T) {
	logger := testutil.NewMockLogger()
	child := logger.Named("dispatch").With(logging.String("run_id", "r1")).Named("worker")

	child.Warn("module slow", logging.Int("ms", 12))
	logger.Debug("root entry")

	msgs := logger.Find(logging.LevelWarn, "slow")
	require.Len(t, msgs, 1)
	assert.Equal(t, "dispatch.worker", msgs[0].Logger)
	runID, ok := msgs[0].Field("run_id")
	assert.True(t, ok)
	assert.Equal(t, "r1", runID)
	_, ok = msgs[0].Field("ms")
	assert.True(t, ok)

	assert.Len(t, logger.Messages(), 2)
	assert.Empty(t, logger.Find(logging.LevelError, ""))
}
