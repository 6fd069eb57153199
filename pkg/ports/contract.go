package ports

import (
	"context"
	"testing"
	"time"

	"github.com/labwire/orderdesk/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunTranscriptStoreContract runs a suite of tests to verify that a TranscriptStore implementation
// adheres to the defined interface contract.
func RunTranscriptStoreContract(t *testing.T, store TranscriptStore) {
	ctx := context.Background()
	suffix := time.Now().Format("20060102150405.000000000")
	sessionID := "contract-session-" + suffix
	now := time.Now().UTC().Truncate(time.Second)

	t.Run("Session Upsert and Load", func(t *testing.T) {
		s := domain.NewSession(sessionID, "owner-a", now)
		require.NoError(t, store.UpsertSession(ctx, s))

		s.MessageCount = 3
		s.LastActivityAt = now.Add(time.Minute)
		require.NoError(t, store.UpsertSession(ctx, s), "Upsert must replace")

		loaded, err := store.LoadSession(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, "owner-a", loaded.OwnerID)
		assert.Equal(t, 3, loaded.MessageCount)
		assert.Equal(t, domain.SessionActive, loaded.Status)
		assert.True(t, loaded.LastActivityAt.Equal(now.Add(time.Minute)))
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.LoadSession(ctx, "missing-"+sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)

		_, err = store.LoadDraft(ctx, "missing-"+sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)

		_, err = store.LoadOrder(ctx, "ORD-missing-"+suffix)
		assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	})

	t.Run("Draft Save and Load", func(t *testing.T) {
		d := domain.OrderDraft{
			RestorationType:  "bridge",
			IsBridge:         true,
			ToothPositions:   []string{"14", "15", "16"},
			MaterialCategory: "pfm",
		}
		require.NoError(t, store.SaveDraft(ctx, sessionID, d))

		d.MaterialSubtype = "non-precious"
		require.NoError(t, store.SaveDraft(ctx, sessionID, d))

		loaded, err := store.LoadDraft(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, []string{"14", "15", "16"}, loaded.ToothPositions)
		assert.Equal(t, "non-precious", loaded.MaterialSubtype)
	})

	t.Run("Append is Idempotent and Ordered", func(t *testing.T) {
		msgs := []domain.Message{
			{ID: "m1-" + suffix, SessionID: sessionID, Role: domain.RoleUser, Content: "I need a bridge", CreatedAt: now},
			{ID: "m2-" + suffix, SessionID: sessionID, Role: domain.RoleAssistant, CreatedAt: now.Add(time.Second),
				ToolCalls: []domain.ToolCall{{ID: "call-1", Name: "validate_bridge", Arguments: `{"tooth_positions":"14,15,16"}`}}},
			{ID: "m3-" + suffix, SessionID: sessionID, Role: domain.RoleTool, ToolCallID: "call-1", ToolName: "validate_bridge",
				Content: `{"valid":true,"message":"ok"}`, CreatedAt: now.Add(2 * time.Second)},
		}
		for _, m := range msgs {
			require.NoError(t, store.AppendMessage(ctx, m))
		}
		// Retry of an already-written message must not duplicate it
		require.NoError(t, store.AppendMessage(ctx, msgs[1]))

		loaded, err := store.ListMessages(ctx, sessionID)
		require.NoError(t, err)
		require.Len(t, loaded, 3)
		assert.Equal(t, "I need a bridge", loaded[0].Content)
		require.Len(t, loaded[1].ToolCalls, 1)
		assert.Equal(t, "validate_bridge", loaded[1].ToolCalls[0].Name)
		assert.Equal(t, "call-1", loaded[2].ToolCallID)
	})

	t.Run("Orders", func(t *testing.T) {
		order := domain.Order{
			Number:           "ORD-" + suffix,
			SessionID:        sessionID,
			OwnerID:          "owner-a",
			RestorationType:  "crown",
			ToothPositions:   []string{"11"},
			MaterialCategory: "metal-free",
			MaterialSubtype:  "ips-emax",
			Material:         "metal-free (ips-emax)",
			ProductCode:      "MF-EMAX-01",
			ProductName:      "IPS e.max Press Crown",
			Shade:            "A2",
			PatientName:      "Chan Tai Man",
			Status:           domain.OrderConfirmed,
			ConfirmedAt:      now,
		}
		require.NoError(t, store.UpsertOrder(ctx, order))
		require.NoError(t, store.UpsertOrder(ctx, order))

		loaded, err := store.LoadOrder(ctx, order.Number)
		require.NoError(t, err)
		assert.Equal(t, "Chan Tai Man", loaded.PatientName)
		assert.Equal(t, []string{"11"}, loaded.ToothPositions)

		orders, err := store.ListOrders(ctx, "owner-a")
		require.NoError(t, err)
		found := 0
		for _, o := range orders {
			if o.Number == order.Number {
				found++
			}
		}
		assert.Equal(t, 1, found)

		others, err := store.ListOrders(ctx, "owner-b-"+suffix)
		require.NoError(t, err)
		assert.Empty(t, others)
	})

	t.Run("List by Owner", func(t *testing.T) {
		otherID := sessionID + "-other"
		require.NoError(t, store.UpsertSession(ctx, domain.NewSession(otherID, "owner-b", now)))
		defer func() { _ = store.DeleteSession(ctx, otherID) }()

		mine, err := store.ListSessions(ctx, "owner-a")
		require.NoError(t, err)
		ids := make([]string, 0, len(mine))
		for _, s := range mine {
			ids = append(ids, s.ID)
		}
		assert.Contains(t, ids, sessionID)
		assert.NotContains(t, ids, otherID)

		all, err := store.ListSessions(ctx, "")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(all), 2)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.DeleteSession(ctx, sessionID))

		_, err := store.LoadSession(ctx, sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound, "Load after Delete should return ErrSessionNotFound")

		msgs, err := store.ListMessages(ctx, sessionID)
		require.NoError(t, err)
		assert.Empty(t, msgs)

		_, err = store.LoadOrder(ctx, "ORD-"+suffix)
		assert.NoError(t, err, "orders outlive their session")
	})
}
