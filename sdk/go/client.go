package pactlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Pactline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Terms is the negotiable snapshot exchanged during offers.
type Terms struct {
	PaymentType    string      `json:"payment_type"`
	PaymentMethod  string      `json:"payment_method"`
	Amount         int64       `json:"amount"`
	Currency       string      `json:"currency,omitempty"`
	DurationDays   int         `json:"duration_days,omitempty"`
	RevisionPolicy string      `json:"revision_policy,omitempty"`
	Milestones     []Milestone `json:"milestones,omitempty"`
}

// Milestone represents the API milestone model (partial).
type Milestone struct {
	ID            string `json:"id,omitempty"`
	Position      int    `json:"position,omitempty"`
	Title         string `json:"title"`
	Description   string `json:"description,omitempty"`
	Amount        int64  `json:"amount"`
	Status        string `json:"status,omitempty"`
	RevisionNotes string `json:"revision_notes,omitempty"`
	RevisionsUsed int    `json:"revisions_used,omitempty"`
}

// Contract represents the API contract model (partial).
type Contract struct {
	ID           string `json:"id"`
	ClientID     string `json:"client_id"`
	ClientName   string `json:"client_name,omitempty"`
	CreatorID    string `json:"creator_id"`
	CreatorName  string `json:"creator_name,omitempty"`
	Title        string `json:"title"`
	Status       string `json:"status"`
	Terms        Terms  `json:"terms"`
	FundedAmount int64  `json:"funded_amount,omitempty"`
	Version      int64  `json:"version"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ContractID string `json:"contract_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// Notification is one feed entry for the authenticated party.
type Notification struct {
	ID        string `json:"id"`
	PartyID   string `json:"party_id"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Severity  string `json:"severity,omitempty"`
	Link      string `json:"link,omitempty"`
	Read      bool   `json:"read"`
	CreatedAt string `json:"created_at"`
}

// DisputeCase is one open case in the admin queue.
type DisputeCase struct {
	Kind        string `json:"kind"`
	ContractID  string `json:"contract_id"`
	MilestoneID string `json:"milestone_id,omitempty"`
	ClientID    string `json:"client_id"`
	CreatorID   string `json:"creator_id"`
	Reason      string `json:"reason,omitempty"`
	RaisedAt    string `json:"raised_at,omitempty"`
}

// FundingQuote is the escrow deposit breakdown for an amount.
type FundingQuote struct {
	Amount    int64 `json:"amount"`
	EscrowFee int64 `json:"escrow_fee"`
	Total     int64 `json:"total"`
}

// PayoutQuote is the creator take-home breakdown for an amount.
type PayoutQuote struct {
	Amount         int64 `json:"amount"`
	Commission     int64 `json:"commission"`
	WithholdingTax int64 `json:"withholding_tax"`
	TakeHome       int64 `json:"take_home"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedContracts wraps list responses with cursors.
type PaginatedContracts struct {
	Items      []Contract `json:"items"`
	NextCursor string     `json:"next_cursor"`
}

// CreateContractInput is the offer payload for CreateContract.
type CreateContractInput struct {
	ID          string `json:"id,omitempty"`
	ClientID    string `json:"client_id"`
	ClientName  string `json:"client_name,omitempty"`
	CreatorID   string `json:"creator_id"`
	CreatorName string `json:"creator_name,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Terms       Terms  `json:"terms"`
	ExpiryDate  string `json:"expiry_date,omitempty"`
}

// CreateContract drafts a contract and sends the offer.
func (c *Client) CreateContract(ctx context.Context, in CreateContractInput) (Contract, error) {
	var resp Contract
	err := c.do(ctx, http.MethodPost, "contracts", in, &resp)
	return resp, err
}

// Contract fetches a contract with milestones and history.
func (c *Client) Contract(ctx context.Context, id string) (Contract, error) {
	var resp Contract
	err := c.do(ctx, http.MethodGet, c.contractPath(id, ""), nil, &resp)
	return resp, err
}

// Contracts returns a page of contracts visible to the caller.
func (c *Client) Contracts(ctx context.Context, status string, limit int, cursor string) (PaginatedContracts, error) {
	endpoint := "contracts"
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedContracts
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Counter replaces the offer terms and flips the turn.
func (c *Client) Counter(ctx context.Context, id string, terms Terms, note string) (Contract, error) {
	body := map[string]any{"terms": terms, "note": note}
	var resp Contract
	err := c.do(ctx, http.MethodPost, c.contractPath(id, "counter"), body, &resp)
	return resp, err
}

// Accept accepts the offer on the table.
func (c *Client) Accept(ctx context.Context, id string) (Contract, error) {
	var resp Contract
	err := c.do(ctx, http.MethodPost, c.contractPath(id, "accept"), struct{}{}, &resp)
	return resp, err
}

// Decline declines the offer on the table.
func (c *Client) Decline(ctx context.Context, id, reason string) (Contract, error) {
	body := map[string]any{"reason": reason}
	var resp Contract
	err := c.do(ctx, http.MethodPost, c.contractPath(id, "decline"), body, &resp)
	return resp, err
}

// Fund records the escrow deposit; amount must equal the funding quote total.
func (c *Client) Fund(ctx context.Context, id string, amount int64) (Contract, error) {
	body := map[string]any{"amount": amount}
	var resp Contract
	err := c.do(ctx, http.MethodPost, c.contractPath(id, "fund"), body, &resp)
	return resp, err
}

// SubmitWork submits milestone work for review.
func (c *Client) SubmitWork(ctx context.Context, contractID, milestoneID, link, note string) (Contract, error) {
	body := map[string]any{"link": link, "note": note}
	var resp Contract
	err := c.do(ctx, http.MethodPost, c.milestonePath(contractID, milestoneID, "submit"), body, &resp)
	return resp, err
}

// RequestChanges sends submitted work back for revision.
func (c *Client) RequestChanges(ctx context.Context, contractID, milestoneID, note string) (Contract, error) {
	body := map[string]any{"note": note}
	var resp Contract
	err := c.do(ctx, http.MethodPost, c.milestonePath(contractID, milestoneID, "request-changes"), body, &resp)
	return resp, err
}

// ApproveMilestone approves submitted work.
func (c *Client) ApproveMilestone(ctx context.Context, contractID, milestoneID string) (Contract, error) {
	var resp Contract
	err := c.do(ctx, http.MethodPost, c.milestonePath(contractID, milestoneID, "approve"), struct{}{}, &resp)
	return resp, err
}

// SubmitPaymentProof attaches payment proof on a direct contract.
func (c *Client) SubmitPaymentProof(ctx context.Context, contractID, milestoneID, content, method string) (Contract, error) {
	body := map[string]any{"content": content, "method": method}
	var resp Contract
	err := c.do(ctx, http.MethodPost, c.milestonePath(contractID, milestoneID, "payment-proof"), body, &resp)
	return resp, err
}

// ConfirmPayment confirms the payment arrived.
func (c *Client) ConfirmPayment(ctx context.Context, contractID, milestoneID string) (Contract, error) {
	var resp Contract
	err := c.do(ctx, http.MethodPost, c.milestonePath(contractID, milestoneID, "confirm-payment"), struct{}{}, &resp)
	return resp, err
}

// RaiseDispute freezes a milestone in dispute.
func (c *Client) RaiseDispute(ctx context.Context, contractID, milestoneID, reason string, triedResolving bool) (Contract, error) {
	body := map[string]any{"reason": reason, "tried_resolving": triedResolving}
	var resp Contract
	err := c.do(ctx, http.MethodPost, c.milestonePath(contractID, milestoneID, "dispute"), body, &resp)
	return resp, err
}

// ProposeResolution proposes an amicable fix for a disputed milestone.
func (c *Client) ProposeResolution(ctx context.Context, contractID, milestoneID, action, message string) (Contract, error) {
	body := map[string]any{"action": action, "message": message}
	var resp Contract
	err := c.do(ctx, http.MethodPost, c.milestonePath(contractID, milestoneID, "resolution"), body, &resp)
	return resp, err
}

// AcceptResolution accepts the counterparty's proposed resolution.
func (c *Client) AcceptResolution(ctx context.Context, contractID, milestoneID string) (Contract, error) {
	var resp Contract
	err := c.do(ctx, http.MethodPost, c.milestonePath(contractID, milestoneID, "resolution/accept"), struct{}{}, &resp)
	return resp, err
}

// RequestEnd asks the counterparty to end the contract.
func (c *Client) RequestEnd(ctx context.Context, id, endType, reason string) (Contract, error) {
	body := map[string]any{"type": endType, "reason": reason}
	var resp Contract
	err := c.do(ctx, http.MethodPost, c.contractPath(id, "end"), body, &resp)
	return resp, err
}

// ResolveEnd approves or rejects a pending end request.
func (c *Client) ResolveEnd(ctx context.Context, id string, approve bool, rejectionReason string) (Contract, error) {
	body := map[string]any{"approve": approve, "rejection_reason": rejectionReason}
	var resp Contract
	err := c.do(ctx, http.MethodPost, c.contractPath(id, "end/resolve"), body, &resp)
	return resp, err
}

// Review marks a closed contract as reviewed by the caller's side.
func (c *Client) Review(ctx context.Context, id string) (Contract, error) {
	var resp Contract
	err := c.do(ctx, http.MethodPost, c.contractPath(id, "review"), struct{}{}, &resp)
	return resp, err
}

// Disputes returns the open dispute queue (admin only).
func (c *Client) Disputes(ctx context.Context) ([]DisputeCase, error) {
	var resp []DisputeCase
	err := c.do(ctx, http.MethodGet, "disputes", nil, &resp)
	return resp, err
}

// RulingInput is the payload for an admin ruling.
type RulingInput struct {
	Kind        string `json:"kind"`
	ContractID  string `json:"contract_id"`
	MilestoneID string `json:"milestone_id,omitempty"`
	Verdict     string `json:"verdict"`
	Note        string `json:"note,omitempty"`
}

// Rule issues a binding ruling on a dispute case (admin only).
func (c *Client) Rule(ctx context.Context, in RulingInput) (Contract, error) {
	var resp Contract
	err := c.do(ctx, http.MethodPost, "disputes/ruling", in, &resp)
	return resp, err
}

// QuoteFunding returns the escrow deposit for an amount.
func (c *Client) QuoteFunding(ctx context.Context, amount int64) (FundingQuote, error) {
	var resp FundingQuote
	endpoint := fmt.Sprintf("quotes/funding?amount=%d", amount)
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// QuotePayout returns the creator take-home for an amount.
func (c *Client) QuotePayout(ctx context.Context, amount int64, method, residency string) (PayoutQuote, error) {
	q := url.Values{}
	q.Set("amount", fmt.Sprintf("%d", amount))
	if method != "" {
		q.Set("method", method)
	}
	if residency != "" {
		q.Set("residency", residency)
	}
	var resp PayoutQuote
	err := c.do(ctx, http.MethodGet, "quotes/payout?"+q.Encode(), nil, &resp)
	return resp, err
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, limit int, contractID string) ([]Event, error) {
	endpoint := "events"
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if contractID != "" {
		q.Set("contract_id", contractID)
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Notifications returns the caller's notification feed.
func (c *Client) Notifications(ctx context.Context, unreadOnly bool) ([]Notification, error) {
	endpoint := "notifications"
	if unreadOnly {
		endpoint += "?unread=true"
	}
	var resp []Notification
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// MarkNotificationRead marks one notification as read.
func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	endpoint := fmt.Sprintf("notifications/%s/read", url.PathEscape(id))
	return c.do(ctx, http.MethodPost, endpoint, struct{}{}, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) contractPath(id, action string) string {
	p := "contracts/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) milestonePath(contractID, milestoneID, action string) string {
	return fmt.Sprintf("contracts/%s/milestones/%s/%s", url.PathEscape(contractID), url.PathEscape(milestoneID), action)
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
