package errors

import (
	"encoding/json"
	"fmt"
)

// Reason is the closed set of machine readable outcome codes shared with
// clients. Card decisions, 402 bodies and 409 bodies only ever carry one of
// these values.
type Reason string

const (
	ReasonCardNotFound              Reason = "card_not_found"
	ReasonUserNotFound              Reason = "user_not_found"
	ReasonPendingRequestNotFound    Reason = "pending_request_not_found"
	ReasonInsufficientUSDCAllowance Reason = "insufficient_usdc_allowance"
	ReasonInsufficientUSDCBalance   Reason = "insufficient_usdc_balance"
	ReasonInsufficientExecutorWst   Reason = "insufficient_executor_wst"
	ReasonZeroWstQuote              Reason = "zero_wst_quote"
	ReasonApproveVaultFailed        Reason = "approve_vault_failed"
	ReasonAlreadyExecuted           Reason = "already_executed"
	ReasonExecutionInProgress       Reason = "execution_in_progress"
)

var knownReasons = map[Reason]struct{}{
	ReasonCardNotFound:              {},
	ReasonUserNotFound:              {},
	ReasonPendingRequestNotFound:    {},
	ReasonInsufficientUSDCAllowance: {},
	ReasonInsufficientUSDCBalance:   {},
	ReasonInsufficientExecutorWst:   {},
	ReasonZeroWstQuote:              {},
	ReasonApproveVaultFailed:        {},
	ReasonAlreadyExecuted:           {},
	ReasonExecutionInProgress:       {},
}

// ParseReason converts a string into a Reason, rejecting unknown values.
func ParseReason(s string) (Reason, error) {
	r := Reason(s)
	if _, ok := knownReasons[r]; !ok {
		return "", fmt.Errorf("unknown reason %q", s)
	}
	return r, nil
}

// Valid reports whether r is a member of the enumeration.
func (r Reason) Valid() bool {
	_, ok := knownReasons[r]
	return ok
}

func (r Reason) String() string { return string(r) }

// UnmarshalJSON rejects reasons outside the enumeration.
func (r *Reason) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseReason(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
