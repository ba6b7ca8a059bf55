package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/conductor/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStateStoreContract runs a suite of tests to verify that a StateStore implementation
// adheres to the defined interface contract.
func RunStateStoreContract(t *testing.T, store StateStore) {
	ctx := context.Background()
	threadID := "contract-test-thread-" + time.Now().Format("20060102150405")

	t.Run("Save and Load", func(t *testing.T) {
		state := domain.NewState(threadID, domain.DefaultLimits())
		state.BeginTurn("user-1", "draft an email", "intent_router")
		state.Plans = []string{"draft email", "send email"}
		state.Usages = domain.Usage{domain.UsageInputTokens: 42}
		state.Messages = append(state.Messages, domain.Message{
			Role:      domain.RoleAssistant,
			ToolCalls: []domain.ToolCall{{ID: "c1", Name: "search", Args: map[string]any{"q": "x"}}},
		})

		err := store.Save(ctx, threadID, state)
		require.NoError(t, err, "Save should not return error")

		loaded, err := store.Load(ctx, threadID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, state.Node, loaded.Node)
		assert.Equal(t, state.Status, loaded.Status)
		assert.Equal(t, "user-1", loaded.UserID)
		assert.Equal(t, []string{"draft email", "send email"}, loaded.Plans)
		assert.Equal(t, 42.0, loaded.Usages[domain.UsageInputTokens])
		require.Len(t, loaded.Messages, 2)
		assert.Equal(t, "c1", loaded.Messages[1].ToolCalls[0].ID)
	})

	t.Run("Pending Interrupt Roundtrip", func(t *testing.T) {
		state := domain.NewState(threadID, domain.DefaultLimits())
		state.Status = domain.StatusSuspended
		state.Pending = &domain.PendingInterrupt{
			ID:   "int-1",
			Node: "mail",
			Request: domain.InterruptRequest{
				Name: "recipient",
				Type: domain.InterruptInputOption,
				Data: domain.InterruptData{Title: "Pick", Options: []string{"a", "b"}},
			},
			Checkpoint: []byte(`{"index":1}`),
		}
		require.NoError(t, store.Save(ctx, threadID, state))

		loaded, err := store.Load(ctx, threadID)
		require.NoError(t, err)
		require.NotNil(t, loaded.Pending)
		assert.Equal(t, "recipient", loaded.Pending.Request.Name)
		assert.Equal(t, []string{"a", "b"}, loaded.Pending.Request.Data.Options)
		assert.JSONEq(t, `{"index":1}`, string(loaded.Pending.Checkpoint))
	})

	t.Run("Load Is Isolated", func(t *testing.T) {
		state := domain.NewState(threadID, domain.DefaultLimits())
		state.Plans = []string{"one"}
		require.NoError(t, store.Save(ctx, threadID, state))

		state.Plans[0] = "mutated"
		loaded, err := store.Load(ctx, threadID)
		require.NoError(t, err)
		assert.Equal(t, "one", loaded.Plans[0])
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+threadID)
		assert.ErrorIs(t, err, domain.ErrThreadNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		err := store.Save(ctx, threadID, domain.NewState(threadID, domain.DefaultLimits()))
		require.NoError(t, err)

		err = store.Delete(ctx, threadID)
		require.NoError(t, err, "Delete should not return error")

		_, err = store.Load(ctx, threadID)
		assert.ErrorIs(t, err, domain.ErrThreadNotFound, "Load after Delete should return ErrThreadNotFound")
	})

	t.Run("List", func(t *testing.T) {
		id1 := threadID + "-1"
		id2 := threadID + "-2"
		_ = store.Save(ctx, id1, domain.NewState(id1, domain.DefaultLimits()))
		_ = store.Save(ctx, id2, domain.NewState(id2, domain.DefaultLimits()))

		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		threads, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, threads, id1)
		assert.Contains(t, threads, id2)
	})
}
