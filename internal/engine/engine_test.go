package engine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"pactline/internal/config"
	"pactline/internal/db"
	"pactline/internal/domain"
	"pactline/internal/engine"
	"pactline/internal/migrate"
	"pactline/internal/repo"
)

var (
	client  = domain.Actor{ID: "client-1", Name: "Cora Client", Role: domain.RoleClient}
	creator = domain.Actor{ID: "creator-1", Name: "Ken Creator", Role: domain.RoleCreator}
	admin   = domain.Actor{ID: "admin-1", Name: "Ada Admin", Role: domain.RoleAdmin}
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	seed := []domain.Party{
		{ID: client.ID, Role: domain.RoleClient, Name: client.Name},
		{ID: creator.ID, Role: domain.RoleCreator, Name: creator.Name, Residency: "resident"},
		{ID: admin.ID, Role: domain.RoleAdmin, Name: admin.Name},
	}
	for _, p := range seed {
		if err := eng.Repo.UpsertParty(ctx, p); err != nil {
			t.Fatalf("seed party %s: %v", p.ID, err)
		}
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func milestoneTerms(method, revisionPolicy string, amounts ...int64) domain.Terms {
	var ms []domain.Milestone
	for i, a := range amounts {
		ms = append(ms, domain.Milestone{Title: fmt.Sprintf("Phase %d", i+1), Amount: a})
	}
	return domain.Terms{
		PaymentType:    domain.PaymentTypeMilestone,
		PaymentMethod:  method,
		RevisionPolicy: revisionPolicy,
		Milestones:     ms,
	}
}

func (env testEnv) sendOffer(t *testing.T, terms domain.Terms) domain.Contract {
	t.Helper()
	c, err := env.Engine.CreateContract(env.Ctx, engine.ContractCreateOptions{
		ClientID:    client.ID,
		ClientName:  client.Name,
		CreatorID:   creator.ID,
		CreatorName: creator.Name,
		Title:       "Logo redesign",
		Terms:       terms,
	}, client)
	if err != nil {
		t.Fatalf("create contract: %v", err)
	}
	return c
}

// activate runs the offer to an active contract: creator accepts, and for
// escrow the client funds the exact required deposit.
func (env testEnv) activate(t *testing.T, terms domain.Terms) domain.Contract {
	t.Helper()
	c := env.sendOffer(t, terms)
	c, err := env.Engine.Accept(env.Ctx, c.ID, creator)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if c.Terms.PaymentMethod == domain.PaymentMethodEscrow {
		c, err = env.Engine.FundDeposit(env.Ctx, c.ID, env.Engine.Fees.TotalFunding(c.Terms.Amount), client)
		if err != nil {
			t.Fatalf("fund: %v", err)
		}
	}
	return c
}

func TestNegotiationTurnAlternates(t *testing.T) {
	env := newTestEnv(t)
	c := env.sendOffer(t, milestoneTerms("escrow", "Unlimited Revisions", 3000, 3500, 3500))
	if c.Status != domain.ContractSent {
		t.Fatalf("status = %s, want sent", c.Status)
	}

	// the client holds the offer; countering again is out of turn
	_, err := env.Engine.CounterOffer(env.Ctx, c.ID, milestoneTerms("escrow", "", 2000, 4000, 4000), "", client)
	var turnErr engine.InvalidTurnError
	if !errors.As(err, &turnErr) {
		t.Fatalf("client self-counter: got %v, want InvalidTurnError", err)
	}
	if _, err := env.Engine.Accept(env.Ctx, c.ID, client); !errors.As(err, &turnErr) {
		t.Fatalf("client self-accept: got %v, want InvalidTurnError", err)
	}

	c, err = env.Engine.CounterOffer(env.Ctx, c.ID, milestoneTerms("escrow", "", 3600, 4200, 4200), "more scope", creator)
	if err != nil {
		t.Fatalf("creator counter: %v", err)
	}
	if c.Status != domain.ContractNegotiating {
		t.Fatalf("status = %s, want negotiating", c.Status)
	}
	if c.PreviousTerms == nil || c.PreviousTerms.Amount != 10000 {
		t.Fatalf("previous terms not kept: %+v", c.PreviousTerms)
	}
	if c.Terms.Amount != 12000 {
		t.Fatalf("amount not derived from milestones: %d", c.Terms.Amount)
	}

	if _, err := env.Engine.CounterOffer(env.Ctx, c.ID, milestoneTerms("escrow", "", 3000, 4500, 4500), "", creator); !errors.As(err, &turnErr) {
		t.Fatalf("creator double counter: got %v, want InvalidTurnError", err)
	}

	// counters supersede, they do not stack
	c, err = env.Engine.CounterOffer(env.Ctx, c.ID, milestoneTerms("escrow", "", 3300, 3900, 3900), "", client)
	if err != nil {
		t.Fatalf("client counter: %v", err)
	}
	if c.PreviousTerms.Amount != 12000 {
		t.Fatalf("previous terms stacked instead of superseded: %d", c.PreviousTerms.Amount)
	}
}

func TestFirstMilestoneFundingCap(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateContract(env.Ctx, engine.ContractCreateOptions{
		ClientID: client.ID, CreatorID: creator.ID, Title: "Over cap",
		Terms: milestoneTerms("escrow", "", 4000, 3000, 3000),
	}, client)
	var ruleErr engine.BusinessRuleError
	if !errors.As(err, &ruleErr) {
		t.Fatalf("got %v, want BusinessRuleError for 40%% first milestone", err)
	}
}

func TestEscrowAcceptWaitsForDeposit(t *testing.T) {
	env := newTestEnv(t)
	c := env.sendOffer(t, milestoneTerms("escrow", "", 3000, 3500, 3500))
	c, err := env.Engine.Accept(env.Ctx, c.ID, creator)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if c.Status != domain.ContractAwaitingDeposit {
		t.Fatalf("status = %s, want awaiting_deposit", c.Status)
	}
	if c.PreviousTerms != nil {
		t.Fatalf("previous terms should clear on acceptance")
	}

	// deposit must be contract amount plus the 3% escrow fee, exactly
	if _, err := env.Engine.FundDeposit(env.Ctx, c.ID, 10000, client); err == nil {
		t.Fatalf("expected short deposit to be rejected")
	}
	if _, err := env.Engine.FundDeposit(env.Ctx, c.ID, 10300, creator); err == nil {
		t.Fatalf("expected creator funding to be forbidden")
	}
	c, err = env.Engine.FundDeposit(env.Ctx, c.ID, 10300, client)
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
	if c.Status != domain.ContractActive || c.FundedAmount != 10300 {
		t.Fatalf("status=%s funded=%d, want active/10300", c.Status, c.FundedAmount)
	}
	if c.Terms.Milestones[0].Status != domain.MilestoneInProgress {
		t.Fatalf("first milestone = %s, want in_progress", c.Terms.Milestones[0].Status)
	}
}

func TestDirectAcceptActivatesImmediately(t *testing.T) {
	env := newTestEnv(t)
	c := env.sendOffer(t, milestoneTerms("direct", "", 3000, 3500, 3500))
	c, err := env.Engine.Accept(env.Ctx, c.ID, creator)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if c.Status != domain.ContractActive {
		t.Fatalf("status = %s, want active", c.Status)
	}
	if c.Terms.Milestones[0].Status != domain.MilestoneInProgress {
		t.Fatalf("first milestone = %s, want in_progress", c.Terms.Milestones[0].Status)
	}
}

func TestEscrowMilestoneFlowToCompletion(t *testing.T) {
	env := newTestEnv(t)
	c := env.activate(t, milestoneTerms("escrow", "", 2000, 4000, 4000))
	for i := 0; i < 3; i++ {
		m := c.Terms.Milestones[i]
		if m.Status != domain.MilestoneInProgress {
			t.Fatalf("milestone %d = %s, want in_progress", i, m.Status)
		}
		var err error
		c, err = env.Engine.SubmitWork(env.Ctx, c.ID, m.ID, "https://example.com/work", "done", creator)
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		if c.Terms.Milestones[i].Status != domain.MilestoneUnderReview {
			t.Fatalf("milestone %d = %s, want under_review", i, c.Terms.Milestones[i].Status)
		}
		c, err = env.Engine.Approve(env.Ctx, c.ID, m.ID, client)
		if err != nil {
			t.Fatalf("approve %d: %v", i, err)
		}
		if c.Terms.Milestones[i].Status != domain.MilestonePaid {
			t.Fatalf("milestone %d = %s, want paid", i, c.Terms.Milestones[i].Status)
		}
	}
	if c.Status != domain.ContractCompleted {
		t.Fatalf("status = %s, want completed after last payout", c.Status)
	}
}

func TestDirectPaymentVerification(t *testing.T) {
	env := newTestEnv(t)
	c := env.activate(t, milestoneTerms("direct", "", 3000, 7000))
	m := c.Terms.Milestones[0]
	c, err := env.Engine.SubmitWork(env.Ctx, c.ID, m.ID, "", "v1", creator)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	c, err = env.Engine.Approve(env.Ctx, c.ID, m.ID, client)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if c.Terms.Milestones[0].Status != domain.MilestoneUnderReview {
		t.Fatalf("milestone = %s, want under_review until proof lands", c.Terms.Milestones[0].Status)
	}

	// the creator cannot confirm money that was never sent
	if _, err := env.Engine.ConfirmPayment(env.Ctx, c.ID, m.ID, creator); err == nil {
		t.Fatalf("expected confirm without proof to fail")
	}
	c, err = env.Engine.SubmitPaymentProof(env.Ctx, c.ID, m.ID, "wire ref 8841", "bank_transfer", client)
	if err != nil {
		t.Fatalf("proof: %v", err)
	}
	if c.Terms.Milestones[0].Status != domain.MilestonePaymentVerify {
		t.Fatalf("milestone = %s, want payment_verify after proof", c.Terms.Milestones[0].Status)
	}
	c, err = env.Engine.ConfirmPayment(env.Ctx, c.ID, m.ID, creator)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if c.Terms.Milestones[0].Status != domain.MilestonePaid {
		t.Fatalf("milestone = %s, want paid", c.Terms.Milestones[0].Status)
	}
	if c.Terms.Milestones[1].Status != domain.MilestoneInProgress {
		t.Fatalf("next milestone = %s, want in_progress", c.Terms.Milestones[1].Status)
	}
}

func TestRevisionCeiling(t *testing.T) {
	env := newTestEnv(t)
	c := env.activate(t, milestoneTerms("escrow", "1 Revision", 2000, 8000))
	m := c.Terms.Milestones[0]

	c, err := env.Engine.SubmitWork(env.Ctx, c.ID, m.ID, "", "v1", creator)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	c, err = env.Engine.RequestChanges(env.Ctx, c.ID, m.ID, "wrong palette", client)
	if err != nil {
		t.Fatalf("first revision: %v", err)
	}
	if c.Terms.Milestones[0].RevisionsUsed != 1 || c.Terms.Milestones[0].RevisionNotes != "wrong palette" {
		t.Fatalf("revision not recorded: %+v", c.Terms.Milestones[0])
	}

	c, err = env.Engine.SubmitWork(env.Ctx, c.ID, m.ID, "", "v2", creator)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	_, err = env.Engine.RequestChanges(env.Ctx, c.ID, m.ID, "still wrong", client)
	var ruleErr engine.BusinessRuleError
	if !errors.As(err, &ruleErr) {
		t.Fatalf("second revision: got %v, want BusinessRuleError", err)
	}
	// the ceiling forces a decision, not a stall: approval still works
	if _, err := env.Engine.Approve(env.Ctx, c.ID, m.ID, client); err != nil {
		t.Fatalf("approve after ceiling: %v", err)
	}
}

func TestDisputeAmicableResolution(t *testing.T) {
	env := newTestEnv(t)
	c := env.activate(t, milestoneTerms("escrow", "", 2000, 8000))
	m := c.Terms.Milestones[0]
	c, _ = env.Engine.SubmitWork(env.Ctx, c.ID, m.ID, "", "v1", creator)

	// both gates: a reason, and an attestation of trying directly first
	if _, err := env.Engine.RaiseDispute(env.Ctx, c.ID, m.ID, "", true, client); err == nil {
		t.Fatalf("expected missing reason to be rejected")
	}
	if _, err := env.Engine.RaiseDispute(env.Ctx, c.ID, m.ID, "not as agreed", false, client); err == nil {
		t.Fatalf("expected unattested dispute to be rejected")
	}
	c, err := env.Engine.RaiseDispute(env.Ctx, c.ID, m.ID, "not as agreed", true, client)
	if err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if c.Terms.Milestones[0].Status != domain.MilestoneDisputed {
		t.Fatalf("milestone = %s, want disputed", c.Terms.Milestones[0].Status)
	}
	if c.Terms.Milestones[0].DisputedAt != "2026-01-01T00:00:00Z" {
		t.Fatalf("disputed_at = %q", c.Terms.Milestones[0].DisputedAt)
	}

	// the admin queue dates the case from the dispute, not the submission
	cases, err := env.Engine.ListDisputes(env.Ctx, admin)
	if err != nil {
		t.Fatalf("list disputes: %v", err)
	}
	if len(cases) != 1 || cases[0].RaisedAt != "2026-01-01T00:00:00Z" {
		t.Fatalf("cases = %+v", cases)
	}

	c, err = env.Engine.ProposeResolution(env.Ctx, c.ID, m.ID, domain.ResolutionResumeWork, "let me fix it", creator)
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	var forbidden engine.ForbiddenError
	if _, err := env.Engine.AcceptResolution(env.Ctx, c.ID, m.ID, creator); !errors.As(err, &forbidden) {
		t.Fatalf("proposer self-accept: got %v, want ForbiddenError", err)
	}
	c, err = env.Engine.AcceptResolution(env.Ctx, c.ID, m.ID, client)
	if err != nil {
		t.Fatalf("accept resolution: %v", err)
	}
	got := c.Terms.Milestones[0]
	if got.Status != domain.MilestoneInProgress || got.DisputeReason != "" || got.DisputedAt != "" || got.DisputeResolution != nil {
		t.Fatalf("dispute not cleared: %+v", got)
	}
}

func TestRetryPaymentResolution(t *testing.T) {
	env := newTestEnv(t)
	c := env.activate(t, milestoneTerms("direct", "", 3000, 7000))
	m := c.Terms.Milestones[0]
	c, _ = env.Engine.SubmitWork(env.Ctx, c.ID, m.ID, "", "v1", creator)
	c, _ = env.Engine.Approve(env.Ctx, c.ID, m.ID, client)
	c, _ = env.Engine.SubmitPaymentProof(env.Ctx, c.ID, m.ID, "wire ref 100", "bank_transfer", client)

	c, err := env.Engine.RaiseDispute(env.Ctx, c.ID, m.ID, "payment never arrived", true, creator)
	if err != nil {
		t.Fatalf("dispute: %v", err)
	}
	c, err = env.Engine.ProposeResolution(env.Ctx, c.ID, m.ID, domain.ResolutionRetryPayment, "sending again", client)
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	c, err = env.Engine.AcceptResolution(env.Ctx, c.ID, m.ID, creator)
	if err != nil {
		t.Fatalf("accept resolution: %v", err)
	}
	if c.Terms.Milestones[0].Status != domain.MilestonePaymentVerify {
		t.Fatalf("milestone = %s, want payment_verify after retry", c.Terms.Milestones[0].Status)
	}

	// the client can replace the stale proof before the creator confirms
	c, err = env.Engine.SubmitPaymentProof(env.Ctx, c.ID, m.ID, "wire ref 101", "bank_transfer", client)
	if err != nil {
		t.Fatalf("re-proof: %v", err)
	}
	c, err = env.Engine.ConfirmPayment(env.Ctx, c.ID, m.ID, creator)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if c.Terms.Milestones[0].Status != domain.MilestonePaid {
		t.Fatalf("milestone = %s, want paid", c.Terms.Milestones[0].Status)
	}
}

func TestAdminRulingOnMilestone(t *testing.T) {
	env := newTestEnv(t)
	c := env.activate(t, milestoneTerms("escrow", "", 2000, 8000))
	m := c.Terms.Milestones[0]
	c, _ = env.Engine.SubmitWork(env.Ctx, c.ID, m.ID, "", "v1", creator)
	c, _ = env.Engine.RaiseDispute(env.Ctx, c.ID, m.ID, "unusable", true, client)

	var forbidden engine.ForbiddenError
	if _, err := env.Engine.AdminRuling(env.Ctx, engine.AdminRulingOptions{
		Kind: domain.DisputeKindMilestone, ContractID: c.ID, MilestoneID: m.ID, Verdict: domain.VerdictFavorCreator,
	}, client); !errors.As(err, &forbidden) {
		t.Fatalf("party ruling: got %v, want ForbiddenError", err)
	}

	c, err := env.Engine.AdminRuling(env.Ctx, engine.AdminRulingOptions{
		Kind: domain.DisputeKindMilestone, ContractID: c.ID, MilestoneID: m.ID,
		Verdict: domain.VerdictFavorCreator, Note: "delivery matches the brief",
	}, admin)
	if err != nil {
		t.Fatalf("ruling: %v", err)
	}
	if c.Terms.Milestones[0].Status != domain.MilestonePaid {
		t.Fatalf("milestone = %s, want paid", c.Terms.Milestones[0].Status)
	}
	if c.Terms.Milestones[1].Status != domain.MilestoneInProgress {
		t.Fatalf("next milestone = %s, want in_progress", c.Terms.Milestones[1].Status)
	}
}

func TestTerminationVerdictIsDirectional(t *testing.T) {
	env := newTestEnv(t)

	// creator files; favoring the client denies the request
	c := env.activate(t, milestoneTerms("escrow", "", 2000, 8000))
	c, err := env.Engine.RequestEnd(env.Ctx, c.ID, domain.EndTypeTermination, "client unresponsive", creator)
	if err != nil {
		t.Fatalf("request end: %v", err)
	}
	c, err = env.Engine.AdminRuling(env.Ctx, engine.AdminRulingOptions{
		Kind: domain.DisputeKindTermination, ContractID: c.ID,
		Verdict: domain.VerdictFavorClient, Note: "keep working",
	}, admin)
	if err != nil {
		t.Fatalf("ruling: %v", err)
	}
	if c.Status != domain.ContractActive || c.EndRequest.Status != domain.EndRejected {
		t.Fatalf("creator-filed + favor_client: status=%s request=%s, want active/rejected", c.Status, c.EndRequest.Status)
	}

	// creator files; favoring the creator grants it
	c2 := env.activate(t, milestoneTerms("escrow", "", 2000, 8000))
	c2, _ = env.Engine.RequestEnd(env.Ctx, c2.ID, domain.EndTypeTermination, "client unresponsive", creator)
	c2, err = env.Engine.AdminRuling(env.Ctx, engine.AdminRulingOptions{
		Kind: domain.DisputeKindTermination, ContractID: c2.ID, Verdict: domain.VerdictFavorCreator,
	}, admin)
	if err != nil {
		t.Fatalf("ruling: %v", err)
	}
	if c2.Status != domain.ContractCancelled || c2.EndRequest.Status != domain.EndApproved {
		t.Fatalf("creator-filed + favor_creator: status=%s request=%s, want cancelled/approved", c2.Status, c2.EndRequest.Status)
	}
	for _, m := range c2.Terms.Milestones {
		if m.Status != domain.MilestoneCancelled {
			t.Fatalf("milestone %s = %s, want cancelled", m.Title, m.Status)
		}
	}
}

func TestEndRequestFreezesSubmissions(t *testing.T) {
	env := newTestEnv(t)
	c := env.activate(t, milestoneTerms("escrow", "", 2000, 8000))
	m := c.Terms.Milestones[0]

	// client cannot file while a milestone is actively in progress
	if _, err := env.Engine.RequestEnd(env.Ctx, c.ID, domain.EndTypeTermination, "changed my mind", client); err == nil {
		t.Fatalf("expected client end request to be blocked mid-work")
	}

	c, err := env.Engine.RequestEnd(env.Ctx, c.ID, domain.EndTypeTermination, "health", creator)
	if err != nil {
		t.Fatalf("request end: %v", err)
	}
	if _, err := env.Engine.SubmitWork(env.Ctx, c.ID, m.ID, "", "v1", creator); err == nil {
		t.Fatalf("expected submission to be frozen while an end request is pending")
	}
	if _, err := env.Engine.RequestEnd(env.Ctx, c.ID, domain.EndTypeTermination, "me too", client); err == nil {
		t.Fatalf("expected a second pending request to be rejected")
	}

	// requester cannot answer their own request
	var forbidden engine.ForbiddenError
	if _, err := env.Engine.ResolveEnd(env.Ctx, c.ID, true, "", creator); !errors.As(err, &forbidden) {
		t.Fatalf("self-resolve: got %v, want ForbiddenError", err)
	}
	c, err = env.Engine.ResolveEnd(env.Ctx, c.ID, false, "finish the phase first", client)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if c.EndRequest.Status != domain.EndRejected || c.EndRequest.RejectionReason != "finish the phase first" {
		t.Fatalf("rejection not recorded: %+v", c.EndRequest)
	}
	// rejected request unfreezes work
	if _, err := env.Engine.SubmitWork(env.Ctx, c.ID, m.ID, "", "v1", creator); err != nil {
		t.Fatalf("submit after rejection: %v", err)
	}
}

func TestMutualCompletionAndReviews(t *testing.T) {
	env := newTestEnv(t)
	c := env.activate(t, milestoneTerms("direct", "", 3000, 7000))

	c, err := env.Engine.RequestEnd(env.Ctx, c.ID, domain.EndTypeCompletion, "scope shrank", creator)
	if err != nil {
		t.Fatalf("request end: %v", err)
	}
	c, err = env.Engine.ResolveEnd(env.Ctx, c.ID, true, "", client)
	if err != nil {
		t.Fatalf("approve end: %v", err)
	}
	if c.Status != domain.ContractCompleted {
		t.Fatalf("status = %s, want completed", c.Status)
	}
	for _, m := range c.Terms.Milestones {
		if m.Status != domain.MilestoneCancelled {
			t.Fatalf("milestone %s = %s, want cancelled on early completion", m.Title, m.Status)
		}
	}

	c, err = env.Engine.MarkReviewed(env.Ctx, c.ID, client)
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if !c.IsClientReviewed || c.IsCreatorReviewed {
		t.Fatalf("review flags wrong: %+v", c)
	}
	if _, err := env.Engine.MarkReviewed(env.Ctx, c.ID, client); err == nil {
		t.Fatalf("expected double review to be rejected")
	}
}

func TestContractVisibility(t *testing.T) {
	env := newTestEnv(t)
	c := env.sendOffer(t, milestoneTerms("escrow", "", 2000, 8000))

	stranger := domain.Actor{ID: "other-9", Role: domain.RoleClient}
	var forbidden engine.ForbiddenError
	if _, err := env.Engine.GetContract(env.Ctx, c.ID, stranger); !errors.As(err, &forbidden) {
		t.Fatalf("stranger read: got %v, want ForbiddenError", err)
	}
	if _, err := env.Engine.GetContract(env.Ctx, c.ID, admin); err != nil {
		t.Fatalf("admin read: %v", err)
	}

	mine, err := env.Engine.ListContracts(env.Ctx, stranger, repo.ContractFilters{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(mine) != 0 {
		t.Fatalf("stranger sees %d contracts, want 0", len(mine))
	}
}

func TestHistoryGrowsAppendOnly(t *testing.T) {
	env := newTestEnv(t)
	c := env.sendOffer(t, milestoneTerms("escrow", "", 2000, 8000))
	if len(c.History) != 1 || c.History[0].Type != "created" {
		t.Fatalf("history after create: %+v", c.History)
	}
	c, _ = env.Engine.CounterOffer(env.Ctx, c.ID, milestoneTerms("escrow", "", 3000, 9000), "", creator)
	c, _ = env.Engine.Accept(env.Ctx, c.ID, client)
	types := make([]string, 0, len(c.History))
	for _, h := range c.History {
		types = append(types, h.Type)
	}
	want := []string{"created", "counter_offer", "accepted"}
	if len(types) != len(want) {
		t.Fatalf("history = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("history[%d] = %s, want %s", i, types[i], want[i])
		}
	}
}
