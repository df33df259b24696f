package conversation_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sonarbridge/sonarbridge/internal/conversation"
)

func TestStore_Resolve(t *testing.T) {
	t.Run("should return same session for same identifier", func(t *testing.T) {
		store := conversation.NewStore(time.Hour)

		first, err := store.Resolve(context.Background(), "conv-1")
		require.NoError(t, err)
		first.BindThread("thread-abc")

		second, err := store.Resolve(context.Background(), "conv-1")
		require.NoError(t, err)

		require.Same(t, first, second)
		require.Equal(t, "thread-abc", second.ThreadRef())
	})

	t.Run("should mint identifier when none is given", func(t *testing.T) {
		store := conversation.NewStore(time.Hour)

		session, err := store.Resolve(context.Background(), "")
		require.NoError(t, err)
		require.NotEmpty(t, session.ID)

		other, err := store.Resolve(context.Background(), "")
		require.NoError(t, err)
		require.NotEqual(t, session.ID, other.ID)
	})

	t.Run("should start fresh session after idle timeout", func(t *testing.T) {
		store := conversation.NewStore(10 * time.Millisecond)

		first, err := store.Resolve(context.Background(), "conv-1")
		require.NoError(t, err)
		first.BindThread("thread-abc")

		time.Sleep(25 * time.Millisecond)

		second, err := store.Resolve(context.Background(), "conv-1")
		require.NoError(t, err)

		require.NotSame(t, first, second)
		require.Empty(t, second.ThreadRef())
	})

	t.Run("should keep session alive while touched within timeout", func(t *testing.T) {
		store := conversation.NewStore(40 * time.Millisecond)

		first, err := store.Resolve(context.Background(), "conv-1")
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			time.Sleep(20 * time.Millisecond)
			session, err := store.Resolve(context.Background(), "conv-1")
			require.NoError(t, err)
			require.Same(t, first, session)
		}
	})

	t.Run("should resolve concurrent requests for new identifier to one session", func(t *testing.T) {
		store := conversation.NewStore(time.Hour)

		sessions := make(chan string, 32)
		var wg sync.WaitGroup
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				session, err := store.Resolve(context.Background(), "conv-race")
				require.NoError(t, err)
				session.BindThread("thread-abc")
				sessions <- session.ID
			}()
		}
		wg.Wait()
		close(sessions)

		for id := range sessions {
			require.Equal(t, "conv-race", id)
		}
		require.Equal(t, 1, store.Len())
	})
}

func TestStore_List(t *testing.T) {
	t.Run("should list sessions oldest first", func(t *testing.T) {
		store := conversation.NewStore(time.Hour)

		_, err := store.Resolve(context.Background(), "conv-a")
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
		_, err = store.Resolve(context.Background(), "conv-b")
		require.NoError(t, err)

		infos := store.List(context.Background())
		require.Len(t, infos, 2)
		require.Equal(t, "conv-a", infos[0].ID)
		require.Equal(t, "conv-b", infos[1].ID)
		require.False(t, infos[0].LastActiveAt.IsZero())
	})
}

func TestStore_Sweep(t *testing.T) {
	t.Run("should remove only expired sessions", func(t *testing.T) {
		store := conversation.NewStore(time.Minute)

		stale, err := store.Resolve(context.Background(), "conv-stale")
		require.NoError(t, err)
		_, err = store.Resolve(context.Background(), "conv-live")
		require.NoError(t, err)

		stale.Touch(time.Now().Add(-2 * time.Minute))

		removed := store.Sweep(time.Now())
		require.Equal(t, 1, removed)
		require.Equal(t, 1, store.Len())

		infos := store.List(context.Background())
		require.Len(t, infos, 1)
		require.Equal(t, "conv-live", infos[0].ID)
	})

	t.Run("should remove nothing when all sessions are live", func(t *testing.T) {
		store := conversation.NewStore(time.Minute)

		_, err := store.Resolve(context.Background(), "conv-1")
		require.NoError(t, err)

		require.Equal(t, 0, store.Sweep(time.Now()))
		require.Equal(t, 1, store.Len())
	})
}
