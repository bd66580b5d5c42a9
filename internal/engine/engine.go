// Package engine implements the contract lifecycle: negotiation, escrow
// funding, milestone delivery and payment, disputes and contract endings.
// Every mutation runs in a single transaction that also appends the
// contract history entry and the event feed row, so readers never observe
// a state change without its audit trail.
package engine

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"pactline/internal/config"
	"pactline/internal/domain"
	"pactline/internal/escrow"
	"pactline/internal/events"
	"pactline/internal/notify"
	"pactline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Sink   notify.Sink
	Fees   escrow.Schedule
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	fees := escrow.Standard
	if cfg != nil {
		fees = cfg.Fees
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Sink:   notify.StoreSink{Repo: repo.Repo{DB: db}},
		Fees:   fees,
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

// appendHistory writes the audit-trail row for a mutation inside its
// transaction.
func (e Engine) appendHistory(ctx context.Context, tx *sql.Tx, contractID, entryType string, actor domain.Actor, note string) error {
	return e.Repo.AppendHistoryTx(ctx, tx, domain.HistoryEntry{
		ContractID: contractID,
		Type:       entryType,
		ActorID:    actor.ID,
		ActorName:  actor.Name,
		Note:       note,
		CreatedAt:  e.nowRFC3339(),
	})
}

// notify delivers a best-effort notification after commit. Sink failures
// never fail the mutation.
func (e Engine) notify(ctx context.Context, partyID, title, message, severity, contractID string) {
	if e.Sink == nil || partyID == "" {
		return
	}
	e.Sink.Notify(ctx, partyID, title, message, severity, "/contracts/"+contractID)
}

// saveTx persists the mutated contract under optimistic locking and bumps
// the in-memory version to match.
func (e Engine) saveTx(ctx context.Context, tx *sql.Tx, c *domain.Contract) error {
	c.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateContractTx(ctx, tx, *c); err != nil {
		return err
	}
	c.Version++
	return nil
}

// GetContract returns a contract with milestones and full history, guarded
// so only its parties or an admin may read it.
func (e Engine) GetContract(ctx context.Context, id string, actor domain.Actor) (domain.Contract, error) {
	c, err := e.Repo.GetContract(ctx, id)
	if err != nil {
		return domain.Contract{}, err
	}
	if !c.IsParty(actor.ID) && actor.Role != domain.RoleAdmin {
		return domain.Contract{}, ForbiddenError{ActorID: actor.ID, Reason: "not a party to this contract"}
	}
	return c, nil
}

// ListContracts returns the actor's contracts, or all contracts for admins.
func (e Engine) ListContracts(ctx context.Context, actor domain.Actor, f repo.ContractFilters) ([]domain.Contract, error) {
	if actor.Role != domain.RoleAdmin {
		f.PartyID = actor.ID
	}
	return e.Repo.ListContracts(ctx, f)
}

// ListDisputes surfaces every open dispute case. Admin only.
func (e Engine) ListDisputes(ctx context.Context, actor domain.Actor) ([]domain.DisputeCase, error) {
	if actor.Role != domain.RoleAdmin {
		return nil, ForbiddenError{ActorID: actor.ID, Reason: "dispute queue is admin-only"}
	}
	return e.Repo.ListDisputeCases(ctx)
}

const revisionsUnlimited = -1

// revisionLimit parses a terms revision policy into a numeric ceiling.
// "Unlimited Revisions" means no ceiling, "No Revisions" means zero, and a
// policy like "3 Revisions" takes its leading integer. An empty or
// unparseable policy is treated as unlimited.
func revisionLimit(policy string) int {
	p := strings.TrimSpace(strings.ToLower(policy))
	if p == "" || strings.HasPrefix(p, "unlimited") {
		return revisionsUnlimited
	}
	if strings.HasPrefix(p, "no ") || p == "none" {
		return 0
	}
	fields := strings.Fields(p)
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return revisionsUnlimited
	}
	return n
}

// advanceMilestones moves the contract forward after a milestone reaches a
// terminal state: the next pending milestone starts, and when every
// milestone is settled the contract completes. Returns true when the
// contract status changed.
func (e Engine) advanceMilestones(c *domain.Contract) bool {
	open := false
	for i := range c.Terms.Milestones {
		switch c.Terms.Milestones[i].Status {
		case domain.MilestoneInProgress, domain.MilestoneUnderReview,
			domain.MilestonePaymentVerify, domain.MilestoneDisputed:
			open = true
		}
	}
	if open {
		return false
	}
	for i := range c.Terms.Milestones {
		if c.Terms.Milestones[i].Status == domain.MilestonePending {
			c.Terms.Milestones[i].Status = domain.MilestoneInProgress
			return false
		}
	}
	if c.Status == domain.ContractActive {
		c.Status = domain.ContractCompleted
		return true
	}
	return false
}

// cancelOpenMilestones marks every unsettled milestone cancelled, used when
// a contract ends before all milestones are paid.
func cancelOpenMilestones(c *domain.Contract) {
	for i := range c.Terms.Milestones {
		switch c.Terms.Milestones[i].Status {
		case domain.MilestonePaid, domain.MilestoneCancelled:
		default:
			c.Terms.Milestones[i].Status = domain.MilestoneCancelled
		}
	}
}

func requireParty(c domain.Contract, actor domain.Actor) error {
	if !c.IsParty(actor.ID) {
		return ForbiddenError{ActorID: actor.ID, Reason: "not a party to this contract"}
	}
	return nil
}

func requireClient(c domain.Contract, actor domain.Actor, action string) error {
	if actor.ID != c.ClientID {
		return ForbiddenError{ActorID: actor.ID, Reason: "only the client may " + action}
	}
	return nil
}

func requireCreator(c domain.Contract, actor domain.Actor, action string) error {
	if actor.ID != c.CreatorID {
		return ForbiddenError{ActorID: actor.ID, Reason: "only the creator may " + action}
	}
	return nil
}
