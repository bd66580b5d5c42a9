package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"pactline/internal/domain"
	"pactline/internal/events"
)

// ContractCreateOptions are parameters for drafting and sending an offer.
type ContractCreateOptions struct {
	ID          string
	ClientID    string
	ClientName  string
	CreatorID   string
	CreatorName string
	Title       string
	Description string
	Terms       domain.Terms
	ExpiryDate  string
}

// CreateContract drafts a contract and sends it to the counterparty in one
// step. The actor must be one of the two parties; the offer opens in status
// sent, waiting on the other side.
func (e Engine) CreateContract(ctx context.Context, opts ContractCreateOptions, actor domain.Actor) (domain.Contract, error) {
	if opts.Title == "" {
		return domain.Contract{}, ValidationError{Field: "title", Reason: "is required"}
	}
	if opts.ClientID == "" || opts.CreatorID == "" {
		return domain.Contract{}, ValidationError{Field: "parties", Reason: "client_id and creator_id are required"}
	}
	if opts.ClientID == opts.CreatorID {
		return domain.Contract{}, ValidationError{Field: "parties", Reason: "client and creator must differ"}
	}
	if actor.ID != opts.ClientID && actor.ID != opts.CreatorID {
		return domain.Contract{}, ForbiddenError{ActorID: actor.ID, Reason: "offer sender must be a party to the contract"}
	}
	if err := e.normalizeTerms(&opts.Terms); err != nil {
		return domain.Contract{}, err
	}

	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.nowRFC3339()
	c := domain.Contract{
		ID:          id,
		ClientID:    opts.ClientID,
		ClientName:  opts.ClientName,
		CreatorID:   opts.CreatorID,
		CreatorName: opts.CreatorName,
		Title:       opts.Title,
		Description: opts.Description,
		Status:      domain.ContractSent,
		Terms:       opts.Terms,
		ExpiryDate:  opts.ExpiryDate,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Contract{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.EnsureParty(ctx, tx, domain.Party{ID: c.ClientID, Role: domain.RoleClient, Name: c.ClientName, CreatedAt: now}); err != nil {
		return domain.Contract{}, err
	}
	if err := e.Repo.EnsureParty(ctx, tx, domain.Party{ID: c.CreatorID, Role: domain.RoleCreator, Name: c.CreatorName, CreatedAt: now}); err != nil {
		return domain.Contract{}, err
	}
	if err := e.Repo.InsertContractTx(ctx, tx, c); err != nil {
		return domain.Contract{}, err
	}
	if err := e.appendHistory(ctx, tx, c.ID, "created", actor, ""); err != nil {
		return domain.Contract{}, err
	}
	if err := e.Events.Append(ctx, tx, "contract.created", c.ID, "contract", c.ID, actor.ID, events.EventPayload{
		"status": c.Status, "amount": c.Terms.Amount, "currency": c.Terms.Currency,
	}); err != nil {
		return domain.Contract{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Contract{}, err
	}

	e.notify(ctx, c.CounterpartyOf(actor.ID), "New contract offer",
		fmt.Sprintf("%s sent you a contract offer: %s", actor.Name, c.Title), "info", c.ID)
	return e.Repo.GetContract(ctx, c.ID)
}

// CounterOffer replaces the standing terms with a revised proposal and
// hands the turn to the other side. The superseded terms are kept for
// diffing; counters overwrite, they do not stack.
func (e Engine) CounterOffer(ctx context.Context, contractID string, terms domain.Terms, note string, actor domain.Actor) (domain.Contract, error) {
	c, err := e.Repo.GetContract(ctx, contractID)
	if err != nil {
		return domain.Contract{}, err
	}
	if err := requireParty(c, actor); err != nil {
		return domain.Contract{}, err
	}
	if c.Status != domain.ContractSent && c.Status != domain.ContractNegotiating {
		return domain.Contract{}, InvalidTransitionError{Entity: "contract", From: c.Status, Action: "counter_offer"}
	}
	if lastOfferActor(c) == actor.ID {
		return domain.Contract{}, InvalidTurnError{ActorID: actor.ID}
	}
	if err := e.normalizeTerms(&terms); err != nil {
		return domain.Contract{}, err
	}

	prev := c.Terms
	c.PreviousTerms = &prev
	c.Terms = terms
	c.Status = domain.ContractNegotiating

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Contract{}, err
	}
	defer tx.Rollback()
	if err := e.saveTx(ctx, tx, &c); err != nil {
		return domain.Contract{}, err
	}
	if err := e.appendHistory(ctx, tx, c.ID, "counter_offer", actor, note); err != nil {
		return domain.Contract{}, err
	}
	if err := e.Events.Append(ctx, tx, "contract.counter_offer", c.ID, "contract", c.ID, actor.ID, events.EventPayload{
		"amount": c.Terms.Amount, "previous_amount": prev.Amount,
	}); err != nil {
		return domain.Contract{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Contract{}, err
	}

	e.notify(ctx, c.CounterpartyOf(actor.ID), "Counter-offer received",
		fmt.Sprintf("%s countered on %s", actor.Name, c.Title), "info", c.ID)
	return e.Repo.GetContract(ctx, c.ID)
}

// Accept locks in the standing terms. Escrow contracts wait for the
// client's deposit; direct contracts activate immediately and open the
// first milestone.
func (e Engine) Accept(ctx context.Context, contractID string, actor domain.Actor) (domain.Contract, error) {
	c, err := e.Repo.GetContract(ctx, contractID)
	if err != nil {
		return domain.Contract{}, err
	}
	if err := requireParty(c, actor); err != nil {
		return domain.Contract{}, err
	}
	if c.Status != domain.ContractSent && c.Status != domain.ContractNegotiating {
		return domain.Contract{}, InvalidTransitionError{Entity: "contract", From: c.Status, Action: "accept"}
	}
	if lastOfferActor(c) == actor.ID {
		return domain.Contract{}, InvalidTurnError{ActorID: actor.ID}
	}

	c.PreviousTerms = nil
	if c.Terms.PaymentMethod == domain.PaymentMethodEscrow {
		c.Status = domain.ContractAwaitingDeposit
	} else {
		c.Status = domain.ContractActive
		e.advanceMilestones(&c)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Contract{}, err
	}
	defer tx.Rollback()
	if err := e.saveTx(ctx, tx, &c); err != nil {
		return domain.Contract{}, err
	}
	if err := e.appendHistory(ctx, tx, c.ID, "accepted", actor, ""); err != nil {
		return domain.Contract{}, err
	}
	if err := e.Events.Append(ctx, tx, "contract.accepted", c.ID, "contract", c.ID, actor.ID, events.EventPayload{
		"status": c.Status, "amount": c.Terms.Amount,
	}); err != nil {
		return domain.Contract{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Contract{}, err
	}

	msg := fmt.Sprintf("%s accepted %s", actor.Name, c.Title)
	if c.Status == domain.ContractAwaitingDeposit {
		msg += "; awaiting escrow deposit"
	}
	e.notify(ctx, c.CounterpartyOf(actor.ID), "Contract accepted", msg, "info", c.ID)
	return e.Repo.GetContract(ctx, c.ID)
}

// Decline rejects the standing offer and closes the contract.
func (e Engine) Decline(ctx context.Context, contractID, reason string, actor domain.Actor) (domain.Contract, error) {
	c, err := e.Repo.GetContract(ctx, contractID)
	if err != nil {
		return domain.Contract{}, err
	}
	if err := requireParty(c, actor); err != nil {
		return domain.Contract{}, err
	}
	if c.Status != domain.ContractSent && c.Status != domain.ContractNegotiating {
		return domain.Contract{}, InvalidTransitionError{Entity: "contract", From: c.Status, Action: "decline"}
	}
	if lastOfferActor(c) == actor.ID {
		return domain.Contract{}, InvalidTurnError{ActorID: actor.ID}
	}

	c.Status = domain.ContractDeclined
	c.PreviousTerms = nil

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Contract{}, err
	}
	defer tx.Rollback()
	if err := e.saveTx(ctx, tx, &c); err != nil {
		return domain.Contract{}, err
	}
	if err := e.appendHistory(ctx, tx, c.ID, "declined", actor, reason); err != nil {
		return domain.Contract{}, err
	}
	if err := e.Events.Append(ctx, tx, "contract.declined", c.ID, "contract", c.ID, actor.ID, nil); err != nil {
		return domain.Contract{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Contract{}, err
	}

	e.notify(ctx, c.CounterpartyOf(actor.ID), "Contract declined",
		fmt.Sprintf("%s declined %s", actor.Name, c.Title), "warning", c.ID)
	return e.Repo.GetContract(ctx, c.ID)
}

// FundDeposit records the client's escrow deposit and activates the
// contract. The deposit must match the required funding exactly: contract
// amount plus the escrow fee.
func (e Engine) FundDeposit(ctx context.Context, contractID string, amount int64, actor domain.Actor) (domain.Contract, error) {
	c, err := e.Repo.GetContract(ctx, contractID)
	if err != nil {
		return domain.Contract{}, err
	}
	if err := requireClient(c, actor, "fund the deposit"); err != nil {
		return domain.Contract{}, err
	}
	if c.Status != domain.ContractAwaitingDeposit {
		return domain.Contract{}, InvalidTransitionError{Entity: "contract", From: c.Status, Action: "fund_deposit"}
	}
	required := e.Fees.TotalFunding(c.Terms.Amount)
	if amount != required {
		return domain.Contract{}, ValidationError{
			Field:  "amount",
			Reason: fmt.Sprintf("deposit must be exactly %d (%d contract + %d escrow fee)", required, c.Terms.Amount, e.Fees.Fee(c.Terms.Amount)),
		}
	}

	c.FundedAmount = amount
	c.Status = domain.ContractActive
	e.advanceMilestones(&c)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Contract{}, err
	}
	defer tx.Rollback()
	if err := e.saveTx(ctx, tx, &c); err != nil {
		return domain.Contract{}, err
	}
	if err := e.appendHistory(ctx, tx, c.ID, "deposit_funded", actor, fmt.Sprintf("deposited %d %s", amount, c.Terms.Currency)); err != nil {
		return domain.Contract{}, err
	}
	if err := e.Events.Append(ctx, tx, "contract.funded", c.ID, "contract", c.ID, actor.ID, events.EventPayload{
		"funded_amount": amount,
	}); err != nil {
		return domain.Contract{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Contract{}, err
	}

	e.notify(ctx, c.CreatorID, "Escrow funded",
		fmt.Sprintf("%s is funded; work can begin", c.Title), "info", c.ID)
	return e.Repo.GetContract(ctx, c.ID)
}

// lastOfferActor returns the party holding the standing offer: the actor of
// the most recent created or counter_offer history entry. The turn belongs
// to the other side.
func lastOfferActor(c domain.Contract) string {
	for i := len(c.History) - 1; i >= 0; i-- {
		switch c.History[i].Type {
		case "created", "counter_offer":
			return c.History[i].ActorID
		}
	}
	return c.ClientID
}

// normalizeTerms validates offer terms and derives everything derivable:
// the total from milestone amounts, the synthetic milestone for fixed
// contracts, milestone ids, positions and reset statuses.
func (e Engine) normalizeTerms(t *domain.Terms) error {
	switch t.PaymentType {
	case domain.PaymentTypeFixed, domain.PaymentTypeMilestone:
	case "":
		return ValidationError{Field: "terms.payment_type", Reason: "is required"}
	default:
		return ValidationError{Field: "terms.payment_type", Reason: "must be fixed or milestone"}
	}
	switch t.PaymentMethod {
	case domain.PaymentMethodEscrow, domain.PaymentMethodDirect:
	case "":
		return ValidationError{Field: "terms.payment_method", Reason: "is required"}
	default:
		return ValidationError{Field: "terms.payment_method", Reason: "must be escrow or direct"}
	}
	if t.Currency == "" {
		t.Currency = "USD"
		if e.Config != nil && e.Config.Platform.DefaultCurrency != "" {
			t.Currency = e.Config.Platform.DefaultCurrency
		}
	}

	if t.PaymentType == domain.PaymentTypeFixed {
		if len(t.Milestones) > 1 {
			return ValidationError{Field: "terms.milestones", Reason: "fixed contracts carry a single deliverable"}
		}
		if len(t.Milestones) == 0 {
			if t.Amount <= 0 {
				return ValidationError{Field: "terms.amount", Reason: "must be positive"}
			}
			t.Milestones = []domain.Milestone{{Title: "Full delivery", Amount: t.Amount}}
		}
	}
	if len(t.Milestones) == 0 {
		return ValidationError{Field: "terms.milestones", Reason: "at least one milestone is required"}
	}

	for i := range t.Milestones {
		m := &t.Milestones[i]
		if m.Title == "" {
			return ValidationError{Field: fmt.Sprintf("terms.milestones[%d].title", i), Reason: "is required"}
		}
		if m.Amount <= 0 {
			return ValidationError{Field: fmt.Sprintf("terms.milestones[%d].amount", i), Reason: "must be positive"}
		}
		if m.ID == "" {
			m.ID = uuid.New().String()
		}
		m.Position = i
		m.Status = domain.MilestonePending
		m.Submission = nil
		m.PaymentProof = nil
		m.RevisionNotes = ""
		m.RevisionsUsed = 0
		m.DisputeReason = ""
		m.DisputedAt = ""
		m.DisputeResolution = nil
	}

	t.Amount = t.SumMilestones()
	if len(t.Milestones) >= 2 {
		if limit := e.Fees.FirstMilestoneCap(t.Amount); t.Milestones[0].Amount > limit {
			return BusinessRuleError{
				Rule:   "first milestone over funding cap",
				Detail: fmt.Sprintf("first milestone is %d; at most %d allowed for a %d total", t.Milestones[0].Amount, limit, t.Amount),
			}
		}
	}
	return nil
}
