package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/recipe-engine/internal/streaming"
	"github.com/rendis/recipe-engine/pkg/schema"
)

// notifyEvents are the run events worth interrupting a client for.
var notifyEvents = []string{
	schema.EventRunAwaitingApproval,
	schema.EventRunCompleted,
	schema.EventRunFailed,
	schema.EventRunCancelled,
	schema.EventRunReaped,
}

// UserNotifier pushes notifications to connected users.
type UserNotifier interface {
	Notify(ctx context.Context, userID string, payload map[string]any) error
}

// MCPNotifier implements UserNotifier using MCP session notifications.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewMCPNotifier creates a notifier that pushes through the MCP server.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends a notification to each of the user's sessions. Sessions
// that have gone away are forgotten; a user with no session is not an error.
func (n *MCPNotifier) Notify(_ context.Context, userID string, payload map[string]any) error {
	var errs []error
	for _, sessionID := range n.sessions.SessionsFor(userID) {
		err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
		switch {
		case errors.Is(err, server.ErrSessionNotFound):
			n.sessions.Remove(sessionID)
		case err != nil:
			errs = append(errs, fmt.Errorf("session %s: %w", sessionID, err))
		}
	}
	return errors.Join(errs...)
}

// Forward relays run events from hub to the owning user's sessions until ctx
// is done.
func (n *MCPNotifier) Forward(ctx context.Context, hub streaming.EventHub) error {
	ch, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{EventTypes: notifyEvents})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe to run events: %w", err)
	}
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if ev.UserID == "" {
				continue
			}
			_ = n.Notify(ctx, ev.UserID, eventPayload(ev))
		}
	}
}

// eventPayload is the logging-message shape MCP clients display.
func eventPayload(ev streaming.StreamEvent) map[string]any {
	return map[string]any{
		"level":  "info",
		"logger": "recipe-engine",
		"data": map[string]any{
			"run_id": ev.RunID,
			"recipe": ev.Recipe,
			"event":  ev.EventType,
			"detail": ev.Payload,
		},
	}
}
