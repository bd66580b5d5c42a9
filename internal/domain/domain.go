package domain

// Contract statuses. "accepted" is instantaneous: accepting an offer routes
// straight to awaiting_deposit (escrow) or active (direct), with the history
// entry recording the acceptance.
const (
	ContractDraft           = "draft"
	ContractSent            = "sent"
	ContractNegotiating     = "negotiating"
	ContractAwaitingDeposit = "awaiting_deposit"
	ContractActive          = "active"
	ContractCompleted       = "completed"
	ContractCancelled       = "cancelled"
	ContractDeclined        = "declined"
	ContractDisputed        = "disputed"
)

const (
	MilestonePending       = "pending"
	MilestoneInProgress    = "in_progress"
	MilestoneUnderReview   = "under_review"
	MilestonePaymentVerify = "payment_verify"
	MilestonePaid          = "paid"
	MilestoneDisputed      = "disputed"
	MilestoneCancelled     = "cancelled"
)

const (
	PaymentTypeFixed     = "fixed"
	PaymentTypeMilestone = "milestone"

	PaymentMethodEscrow = "escrow"
	PaymentMethodDirect = "direct"
)

const (
	EndTypeCompletion  = "completion"
	EndTypeTermination = "termination"

	EndPending  = "pending"
	EndApproved = "approved"
	EndRejected = "rejected"
)

const (
	RoleClient  = "client"
	RoleCreator = "creator"
	RoleAdmin   = "admin"
)

const (
	ResolutionResumeWork   = "resume_work"
	ResolutionRetryPayment = "retry_payment"
)

// Admin dispute verdicts. "Favor X" means X's claim succeeds; for
// termination cases the verdict is directional on who filed the request.
const (
	VerdictFavorCreator  = "favor_creator"
	VerdictFavorClient   = "favor_client"
	VerdictForceRevision = "force_revision"
)

type Contract struct {
	ID          string `json:"id"`
	ClientID    string `json:"client_id"`
	ClientName  string `json:"client_name"`
	CreatorID   string `json:"creator_id"`
	CreatorName string `json:"creator_name"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status" enum:"draft,sent,negotiating,awaiting_deposit,active,completed,cancelled,declined,disputed"`

	Terms Terms `json:"terms"`
	// PreviousTerms is populated only while status is negotiating and is
	// superseded, not stacked, by each counter-offer.
	PreviousTerms *Terms `json:"previous_terms,omitempty"`

	ExpiryDate string `json:"expiry_date,omitempty" format:"date-time"`

	EndRequest *EndRequest `json:"end_request,omitempty"`

	IsClientReviewed  bool `json:"is_client_reviewed"`
	IsCreatorReviewed bool `json:"is_creator_reviewed"`

	// FundedAmount is the escrow deposit recorded by FundDeposit.
	FundedAmount int64 `json:"funded_amount,omitempty"`

	// Version backs optimistic locking; incremented on every saved mutation.
	Version   int64  `json:"version"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`

	History []HistoryEntry `json:"history,omitempty"`
}

// Terms is the negotiable snapshot exchanged during offers. Amount is always
// the sum of milestone amounts; fixed contracts carry a single synthetic
// milestone covering the whole amount.
type Terms struct {
	PaymentType    string      `json:"payment_type" enum:"fixed,milestone"`
	PaymentMethod  string      `json:"payment_method" enum:"escrow,direct"`
	Amount         int64       `json:"amount"`
	Currency       string      `json:"currency"`
	DurationDays   int         `json:"duration_days,omitempty"`
	RevisionPolicy string      `json:"revision_policy,omitempty"`
	Milestones     []Milestone `json:"milestones"`
}

type Milestone struct {
	ID          string `json:"id"`
	Position    int    `json:"position"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Amount      int64  `json:"amount"`
	Status      string `json:"status" enum:"pending,in_progress,under_review,payment_verify,paid,disputed,cancelled"`

	Submission    *Submission   `json:"submission,omitempty"`
	PaymentProof  *PaymentProof `json:"payment_proof,omitempty"`
	RevisionNotes string        `json:"revision_notes,omitempty"`
	RevisionsUsed int           `json:"revisions_used"`

	DisputeReason     string      `json:"dispute_reason,omitempty"`
	DisputedAt        string      `json:"disputed_at,omitempty" format:"date-time"`
	DisputeResolution *Resolution `json:"dispute_resolution,omitempty"`
}

type Submission struct {
	Link        string `json:"link,omitempty"`
	Note        string `json:"note,omitempty"`
	SubmittedAt string `json:"submitted_at" format:"date-time"`
}

type PaymentProof struct {
	Content string `json:"content"`
	Method  string `json:"method,omitempty"`
	SentAt  string `json:"sent_at" format:"date-time"`
}

// Resolution is an amicable fix proposed by one party on a disputed
// milestone, pending the counter-party's acceptance.
type Resolution struct {
	Action     string `json:"action" enum:"resume_work,retry_payment"`
	Message    string `json:"message,omitempty"`
	ProposedBy string `json:"proposed_by"`
	ProposedAt string `json:"proposed_at" format:"date-time"`
}

type EndRequest struct {
	RequesterID     string `json:"requester_id"`
	RequesterName   string `json:"requester_name,omitempty"`
	Type            string `json:"type" enum:"completion,termination"`
	Reason          string `json:"reason"`
	Status          string `json:"status" enum:"pending,approved,rejected"`
	RejectionReason string `json:"rejection_reason,omitempty"`
	RequestedAt     string `json:"requested_at" format:"date-time"`
}

// HistoryEntry is one row of a contract's append-only audit trail.
type HistoryEntry struct {
	ID         int64  `json:"id"`
	ContractID string `json:"contract_id"`
	Type       string `json:"type"`
	ActorID    string `json:"actor_id"`
	ActorName  string `json:"actor_name,omitempty"`
	Note       string `json:"note,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

// Dispute case kinds; a tagged union resolved by matching on Kind, never by
// parsing a synthetic id prefix.
const (
	DisputeKindMilestone   = "milestone"
	DisputeKindContract    = "contract"
	DisputeKindTermination = "termination"
)

// DisputeCase is derived at query time from milestone/contract state: any
// disputed milestone, a fixed contract in disputed status, or a pending
// termination end request.
type DisputeCase struct {
	Kind        string `json:"kind" enum:"milestone,contract,termination"`
	ContractID  string `json:"contract_id"`
	MilestoneID string `json:"milestone_id,omitempty"`
	ClientID    string `json:"client_id"`
	CreatorID   string `json:"creator_id"`
	Reason      string `json:"reason,omitempty"`
	RaisedAt    string `json:"raised_at,omitempty" format:"date-time"`
}

type Party struct {
	ID        string `json:"id"`
	Role      string `json:"role" enum:"client,creator,admin"`
	Name      string `json:"name,omitempty"`
	Residency string `json:"residency,omitempty" enum:"resident,non_resident"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Actor is the acting identity supplied to every engine call. The engine
// never authenticates; it only authorizes by comparing ids and roles.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
}

type Notification struct {
	ID        string `json:"id"`
	PartyID   string `json:"party_id"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Severity  string `json:"severity,omitempty"`
	Link      string `json:"link,omitempty"`
	Read      bool   `json:"read"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ContractID string `json:"contract_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	PartyID   string `json:"party_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// CounterpartyOf returns the other side of the contract for a party id, or
// empty when the id is not a party.
func (c Contract) CounterpartyOf(partyID string) string {
	switch partyID {
	case c.ClientID:
		return c.CreatorID
	case c.CreatorID:
		return c.ClientID
	}
	return ""
}

// IsParty reports whether the id belongs to either side of the contract.
func (c Contract) IsParty(partyID string) bool {
	return partyID == c.ClientID || partyID == c.CreatorID
}

// MilestoneByID finds a milestone in the current terms.
func (c *Contract) MilestoneByID(id string) *Milestone {
	for i := range c.Terms.Milestones {
		if c.Terms.Milestones[i].ID == id {
			return &c.Terms.Milestones[i]
		}
	}
	return nil
}

// HasPendingEndRequest reports whether an end request awaits resolution.
func (c Contract) HasPendingEndRequest() bool {
	return c.EndRequest != nil && c.EndRequest.Status == EndPending
}

// SumMilestones recomputes the derived terms amount. Cancelled milestones
// still count toward the agreed total; the total reflects the agreement, not
// the payout.
func (t Terms) SumMilestones() int64 {
	var sum int64
	for _, m := range t.Milestones {
		sum += m.Amount
	}
	return sum
}
