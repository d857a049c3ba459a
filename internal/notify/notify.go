// Package notify carries transient, user-visible notices raised by cart
// operations. Errors are still returned to callers; notices are what the UI
// shows for them.
package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Codes used by the cart, selection and session services.
const (
	CodeNetwork     = "network"
	CodeAuth        = "auth"
	CodeValidation  = "validation"
	CodeSingleStore = "single_store"
	CodeConflict    = "conflict"
)

// Levels.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Notice is one transient message for the user.
type Notice struct {
	Level   string    `json:"level"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Notifier receives notices.
type Notifier interface {
	Notify(n Notice)
}

// Feed is a bounded in-memory notice buffer; the oldest notice is dropped
// when full.
type Feed struct {
	mu      sync.Mutex
	notices []Notice
	limit   int
	logger  *zap.Logger
	now     func() time.Time
}

// NewFeed creates a Feed holding at most limit notices.
func NewFeed(limit int, logger *zap.Logger) *Feed {
	if limit <= 0 {
		limit = 32
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{limit: limit, logger: logger, now: time.Now}
}

// Notify appends n, stamping it when At is zero.
func (f *Feed) Notify(n Notice) {
	if n.At.IsZero() {
		n.At = f.now()
	}
	f.logger.Info("notice",
		zap.String("level", n.Level),
		zap.String("code", n.Code),
		zap.String("message", n.Message))

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.notices) == f.limit {
		copy(f.notices, f.notices[1:])
		f.notices = f.notices[:f.limit-1]
	}
	f.notices = append(f.notices, n)
}

// Drain returns and clears the pending notices.
func (f *Feed) Drain() []Notice {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.notices
	f.notices = nil
	if out == nil {
		out = []Notice{}
	}
	return out
}

// Discard drops every notice.
type Discard struct{}

func (Discard) Notify(Notice) {}
