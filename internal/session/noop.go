package session

import (
	"context"
	"time"
)

var _ Store = (*NoopStore)(nil)

// NoopStore keeps nothing. It backs conversations run with storage disabled:
// Create still assigns an id and timestamps so callers can treat the session
// like a stored one, every read comes back empty.
type NoopStore struct{}

func (*NoopStore) Create(_ context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = NewID()
	}
	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	if sess.Status == "" {
		sess.Status = StatusActive
	}
	return nil
}

func (*NoopStore) Get(context.Context, string) (*Session, error) { return nil, nil }
func (*NoopStore) GetCurrent(context.Context) (*Session, error) { return nil, nil }
func (*NoopStore) Update(context.Context, *Session) error { return nil }
func (*NoopStore) Delete(context.Context, string) error { return nil }
func (*NoopStore) SetCurrent(context.Context, string) error { return nil }
func (*NoopStore) ClearCurrent(context.Context) error { return nil }
func (*NoopStore) AddMessage(context.Context, string, *Message) error { return nil }
func (*NoopStore) UpdateStatus(context.Context, string, SessionStatus) error { return nil }
func (*NoopStore) IncrementUserTurns(context.Context, string) error { return nil }
func (*NoopStore) Close() error { return nil }

func (*NoopStore) UpdateMetrics(_ context.Context, _ string, _, _, _, _ int) error {
	return nil
}

func (*NoopStore) List(context.Context, ListOptions) ([]SessionSummary, error) {
	return nil, nil
}

func (*NoopStore) Search(context.Context, string, int) ([]SearchResult, error) {
	return nil, nil
}

func (*NoopStore) GetMessages(context.Context, string, int, int) ([]Message, error) {
	return nil, nil
}
