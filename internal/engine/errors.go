package engine

import "fmt"

// InvalidTransitionError reports an operation applied to an entity in a
// state that does not permit it.
type InvalidTransitionError struct {
	Entity string
	From   string
	Action string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s in status %q does not allow %s", e.Entity, e.From, e.Action)
}

// InvalidTurnError reports a negotiation move by the party that made the
// previous move. Offers alternate strictly between the two parties.
type InvalidTurnError struct {
	ActorID string
}

func (e InvalidTurnError) Error() string {
	return fmt.Sprintf("party %q holds the last offer; waiting on the counterparty", e.ActorID)
}

// ValidationError reports malformed or inconsistent input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// BusinessRuleError reports input that is well-formed but breaks a
// marketplace rule, e.g. the first-milestone funding cap.
type BusinessRuleError struct {
	Rule   string
	Detail string
}

func (e BusinessRuleError) Error() string {
	if e.Detail == "" {
		return e.Rule
	}
	return fmt.Sprintf("%s: %s", e.Rule, e.Detail)
}

// ForbiddenError reports an actor attempting an operation reserved for a
// different party or role.
type ForbiddenError struct {
	ActorID string
	Reason  string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("actor %q: %s", e.ActorID, e.Reason)
}
