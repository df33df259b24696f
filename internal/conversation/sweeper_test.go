package conversation_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sonarbridge/sonarbridge/internal/conversation"
)

func TestSweeper(t *testing.T) {
	t.Run("should start and stop on a valid schedule", func(t *testing.T) {
		store := conversation.NewStore(time.Minute)
		sweeper := conversation.NewSweeper(store, "@every 1h", zap.NewNop())

		require.NoError(t, sweeper.Start())
		sweeper.Stop()
	})

	t.Run("should do nothing without a schedule", func(t *testing.T) {
		store := conversation.NewStore(time.Minute)
		sweeper := conversation.NewSweeper(store, "", zap.NewNop())

		require.NoError(t, sweeper.Start())
		sweeper.Stop()
	})

	t.Run("should reject an invalid schedule", func(t *testing.T) {
		store := conversation.NewStore(time.Minute)
		sweeper := conversation.NewSweeper(store, "not a schedule", zap.NewNop())

		require.Error(t, sweeper.Start())
	})
}
