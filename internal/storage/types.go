package storage

import (
	"context"
	"time"
)

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Join request status values. A request transitions out of pending at most
// once; approved/rejected are terminal.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// AutoApproveActor is the sentinel approved_by value meaning the system
// approved the request without an administrator.
const AutoApproveActor int64 = -1

// JoinRequest is one row of the append-only request ledger.
// ApprovedBy is 0 while the request is pending; after resolution it holds
// the resolving administrator's ID (approve or reject) or AutoApproveActor.
type JoinRequest struct {
	ID         int64
	UserID     int64
	Username   string
	FullName   string
	ChatID     int64
	ChatTitle  string
	Status     string
	ApprovedBy int64
	CreatedAt  time.Time
}

// NewJoinRequest carries the insert fields; status starts as pending.
type NewJoinRequest struct {
	UserID    int64
	Username  string
	FullName  string
	ChatID    int64
	ChatTitle string
}

// Store is the persistence API the core consumes.
//
// MarkApproved/MarkRejected are conditional transitions: they only touch
// rows still in pending and report whether the transition happened, so a
// caller resuming after an awaited boundary re-validates and transitions
// in one statement.
type Store interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error

	AddSubscriber(ctx context.Context, userID int64) error
	ListSubscriberIDs(ctx context.Context) ([]int64, error)

	InsertJoinRequest(ctx context.Context, r NewJoinRequest) (int64, error)
	GetJoinRequest(ctx context.Context, id int64) (*JoinRequest, error)
	ListPendingJoinRequests(ctx context.Context) ([]JoinRequest, error)
	MarkApproved(ctx context.Context, id, actorID int64) (bool, error)
	MarkRejected(ctx context.Context, id, actorID int64) (bool, error)
	// MarkAutoApproved resolves any pending request for (user, chat) with
	// the auto-approval sentinel actor.
	MarkAutoApproved(ctx context.Context, userID, chatID int64) error

	Close() error
}
