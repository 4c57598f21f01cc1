package store

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3748/servicedesk/internal/sla"
	"github.com/mark3748/servicedesk/internal/ticket"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrStaleTransition means the ticket no longer had the expected status
	// when the update was applied.
	ErrStaleTransition = errors.New("stale transition")
)

// Store is the persistence boundary of the SLA engine. Every method is
// expected to be read-your-writes consistent.
type Store interface {
	CreateTicket(ctx context.Context, t ticket.Ticket) error
	FindTicketByID(ctx context.Context, id string) (ticket.Ticket, error)
	// FindActiveTicketsPastThreshold returns tickets in statuses whose elapsed
	// share of the resolution window is at least thresholdPercent at now.
	FindActiveTicketsPastThreshold(ctx context.Context, thresholdPercent int, statuses []ticket.Status, now time.Time) ([]ticket.Ticket, error)
	// FindResolvedPastBusinessDays returns Resolved, unclosed tickets resolved
	// at least days calendar days ago. Business days are checked by the caller.
	FindResolvedPastBusinessDays(ctx context.Context, days int, now time.Time) ([]ticket.Ticket, error)
	FindPendingConfirmationPastDays(ctx context.Context, days int, now time.Time) ([]ticket.Ticket, error)
	// UpdateTicket applies p if the ticket is still in expected. An empty
	// expected status skips the check.
	UpdateTicket(ctx context.Context, id string, expected ticket.Status, p ticket.Patch) error

	InsertEscalation(ctx context.Context, e ticket.Escalation) error
	HasExistingSlaEscalation(ctx context.Context, ticketID string) (bool, error)
	ListEscalations(ctx context.Context, ticketID string) ([]ticket.Escalation, error)
	InsertStatusHistory(ctx context.Context, h ticket.StatusHistory) error
	ListStatusHistory(ctx context.Context, ticketID string) ([]ticket.StatusHistory, error)
	InsertAuditLog(ctx context.Context, e AuditEntry) error

	ActiveRules(ctx context.Context, p ticket.Priority) ([]sla.Rule, error)
	ListRules(ctx context.Context) ([]sla.Rule, error)
	UpsertRule(ctx context.Context, r sla.Rule) (sla.Rule, error)
	DeleteRule(ctx context.Context, id string) error
}

// AuditEntry is one link of the audit hash chain.
type AuditEntry struct {
	ActorType  string    `json:"actor_type"`
	ActorID    *string   `json:"actor_id,omitempty"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Action     string    `json:"action"`
	Diff       any       `json:"diff"`
	At         time.Time `json:"at"`
	Hash       string    `json:"hash"`
	PrevHash   *string   `json:"prev_hash,omitempty"`
}

// chainHash returns hex(sha256(diff || prev)).
func chainHash(diff []byte, prev *string) string {
	data := append([]byte{}, diff...)
	if prev != nil {
		data = append(data, []byte(*prev)...)
	}
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}

func diffJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return b
}

// VerifyChain checks that every entry links to its predecessor.
func VerifyChain(entries []AuditEntry) error {
	var prev *string
	for i, e := range entries {
		if (prev == nil) != (e.PrevHash == nil) || (prev != nil && *prev != *e.PrevHash) {
			return fmt.Errorf("audit entry %d: broken link", i)
		}
		if want := chainHash(diffJSON(e.Diff), e.PrevHash); want != e.Hash {
			return fmt.Errorf("audit entry %d: hash mismatch", i)
		}
		h := e.Hash
		prev = &h
	}
	return nil
}
