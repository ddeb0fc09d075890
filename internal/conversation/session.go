package conversation

import "context"

// Session is everything the machine remembers about one user between events.
type Session struct {
	State          State  `json:"state"`
	Draft          *Draft `json:"draft,omitempty"`
	PendingProduct string `json:"pending_product,omitempty"`
}

// SessionStore keeps one Session per user. Load returns the zero Session
// when nothing is stored.
type SessionStore interface {
	Load(ctx context.Context, userID int64) (Session, error)
	Save(ctx context.Context, userID int64, s Session) error
	Delete(ctx context.Context, userID int64) error
}
