// Package channels adapts external chat surfaces onto the turn bus.
package channels

import (
	"context"
	"strings"

	"github.com/keeva-ai/keeva/pkg/bus"
)

type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, reply bus.OutboundReply) error
	IsRunning() bool
}

// allowed checks a sender against an allow list. An empty list admits
// everyone. Entries match either the raw id or the username part of a
// compound "id|username" sender.
func allowed(allowList []string, senderID string) bool {
	if len(allowList) == 0 {
		return true
	}

	idPart := senderID
	userPart := ""
	if idx := strings.Index(senderID, "|"); idx > 0 {
		idPart = senderID[:idx]
		userPart = senderID[idx+1:]
	}

	for _, entry := range allowList {
		candidate := strings.TrimSpace(strings.TrimPrefix(entry, "@"))
		if candidate == "" {
			continue
		}
		if candidate == senderID || candidate == idPart || (userPart != "" && candidate == userPart) {
			return true
		}
	}
	return false
}
