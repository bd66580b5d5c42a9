// Package notify defines the counter-party alerting boundary. Sinks run
// after a mutation commits and are strictly best-effort: a failed delivery
// never rolls the state change back.
package notify

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"pactline/internal/domain"
	"pactline/internal/repo"
)

const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

type Sink interface {
	Notify(ctx context.Context, partyID, title, message, severity, link string)
}

// StoreSink persists notifications so parties can poll them.
type StoreSink struct {
	Repo repo.Repo
	Now  func() time.Time
}

func (s StoreSink) Notify(ctx context.Context, partyID, title, message, severity, link string) {
	if partyID == "" {
		return
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	n := domain.Notification{
		ID:        uuid.New().String(),
		PartyID:   partyID,
		Title:     title,
		Message:   message,
		Severity:  severity,
		Link:      link,
		CreatedAt: now().UTC().Format(time.RFC3339),
	}
	if err := s.Repo.InsertNotification(ctx, n); err != nil {
		log.Printf("notify: store for %s failed: %v", partyID, err)
	}
}

// Noop drops notifications; used where no sink is configured.
type Noop struct{}

func (Noop) Notify(context.Context, string, string, string, string, string) {}
