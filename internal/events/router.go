package events

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// Handler processes one normalized message type.
type Handler func(env Envelope) error

// Router dispatches incoming transport messages to registered handlers.
// Unknown message types are logged and skipped, never errors: the transport
// may carry event types this gateway does not care about.
type Router struct {
	handlers map[string]Handler
	logger   *zap.Logger
}

// NewRouter creates an empty router.
func NewRouter(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

// Register adds a handler for a message type.
func (r *Router) Register(msgType string, h Handler) {
	r.handlers[msgType] = h
}

// Dispatch parses a raw message and routes it. A malformed envelope is an
// error; an unregistered type is not.
func (r *Router) Dispatch(raw []byte) error {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("unmarshal envelope: %w", err)
	}

	h, ok := r.handlers[env.Type]
	if !ok {
		r.logger.Debug("unhandled message type", zap.String("type", env.Type))
		return nil
	}
	return h(env)
}
