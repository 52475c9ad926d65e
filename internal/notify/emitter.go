package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Emitter is an in-memory Sink that dispatches to registered handlers.
type Emitter struct {
	handlers []Handler
	mu       sync.RWMutex
	logger   *slog.Logger
}

var _ Sink = (*Emitter)(nil)

// NewEmitter creates an emitter with no handlers.
func NewEmitter(logger *slog.Logger) *Emitter {
	return &Emitter{
		logger: logger.With("component", "notify_emitter"),
	}
}

// RegisterHandler adds a handler to receive notifications.
func (e *Emitter) RegisterHandler(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, h)
	e.logger.Debug("registered notification handler", "handler_count", len(e.handlers))
}

// Notify builds a Notification and hands it to every handler. All handlers
// run even if one fails; the first error is returned.
func (e *Emitter) Notify(ctx context.Context, userID uuid.UUID, message string, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode notification payload: %w", err)
		}
		raw = b
	}

	n := &Notification{
		ID:        uuid.New(),
		UserID:    userID,
		Message:   message,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}

	e.mu.RLock()
	handlers := make([]Handler, len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.RUnlock()

	if len(handlers) == 0 {
		e.logger.Warn("no handlers registered for notification", "notification_id", n.ID)
		return nil
	}

	var firstErr error
	for i, h := range handlers {
		if err := h.HandleNotification(ctx, n); err != nil {
			e.logger.Error("handler failed to deliver notification",
				"error", err,
				"handler_index", i,
				"notification_id", n.ID)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// LogHandler writes notifications to the structured log. It is the default
// delivery channel when no push integration is configured.
type LogHandler struct {
	Logger *slog.Logger
}

// HandleNotification implements Handler.
func (h LogHandler) HandleNotification(ctx context.Context, n *Notification) error {
	h.Logger.InfoContext(ctx, "user notification",
		"notification_id", n.ID,
		"user_id", n.UserID,
		"message", n.Message)
	return nil
}
