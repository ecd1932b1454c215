package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"gatebot/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSettingsUpsert(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	_, ok, err := st.GetSetting(ctx, "auto_approve")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, st.SetSetting(ctx, "auto_approve", "true"))
	require.NoError(t, st.SetSetting(ctx, "auto_approve", "false"))

	v, ok, err := st.GetSetting(ctx, "auto_approve")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "false", v)
}

func TestSubscribersUnique(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.AddSubscriber(ctx, 100))
	require.NoError(t, st.AddSubscriber(ctx, 100))
	require.NoError(t, st.AddSubscriber(ctx, 200))

	ids, err := st.ListSubscriberIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{100, 200}, ids)
}

func TestJoinRequestLifecycle(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id, err := st.InsertJoinRequest(ctx, NewJoinRequest{
		UserID: 42, Username: "alice", FullName: "Alice A", ChatID: -100, ChatTitle: "Chan",
	})
	require.NoError(t, err)
	require.Greater(t, id, int64(0))

	r, err := st.GetJoinRequest(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, r)
	require.Equal(t, StatusPending, r.Status)
	require.Equal(t, int64(42), r.UserID)
	require.False(t, r.CreatedAt.IsZero())

	pending, err := st.ListPendingJoinRequests(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	ok, err := st.MarkApproved(ctx, id, 777)
	require.NoError(t, err)
	require.True(t, ok)

	// Second transition must be a no-op and must not overwrite the actor.
	ok, err = st.MarkRejected(ctx, id, 888)
	require.NoError(t, err)
	require.False(t, ok)

	r, err = st.GetJoinRequest(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, r.Status)
	require.Equal(t, int64(777), r.ApprovedBy)

	pending, err = st.ListPendingJoinRequests(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestGetJoinRequestAbsent(t *testing.T) {
	st := openTestStore(t)

	r, err := st.GetJoinRequest(context.Background(), 9999)
	require.NoError(t, err)
	require.Nil(t, r)
}

func TestMarkAutoApproved(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id, err := st.InsertJoinRequest(ctx, NewJoinRequest{UserID: 7, ChatID: -5, ChatTitle: "Chan"})
	require.NoError(t, err)

	require.NoError(t, st.MarkAutoApproved(ctx, 7, -5))

	r, err := st.GetJoinRequest(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, r.Status)
	require.Equal(t, AutoApproveActor, r.ApprovedBy)

	// Resolved rows are left alone on a repeat call.
	require.NoError(t, st.MarkAutoApproved(ctx, 7, -5))
	r, err = st.GetJoinRequest(ctx, id)
	require.NoError(t, err)
	require.Equal(t, AutoApproveActor, r.ApprovedBy)
}

func TestMarkRejected(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id, err := st.InsertJoinRequest(ctx, NewJoinRequest{UserID: 1, ChatID: -2})
	require.NoError(t, err)

	ok, err := st.MarkRejected(ctx, id, 555)
	require.NoError(t, err)
	require.True(t, ok)

	r, err := st.GetJoinRequest(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, r.Status)
	require.Equal(t, int64(555), r.ApprovedBy)
}
