package core

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

var (
	ErrAgentNotFound     = errors.New("agent not found")
	ErrTierNotFound      = errors.New("tier not found")
	ErrPromotionNotFound = errors.New("promotion not found")
	ErrProposalNotFound  = errors.New("proposal not found")

	ErrTierExists = errors.New("tier already exists")

	// ErrPromotionNotPending is returned by the repository when a status
	// update races with an earlier resolution.
	ErrPromotionNotPending = errors.New("promotion is not pending")

	// ErrOracleUnavailable covers both a missing oracle and a failed call.
	ErrOracleUnavailable = errors.New("oracle unavailable")
)

// IsNotFound reports whether err is one of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAgentNotFound) ||
		errors.Is(err, ErrTierNotFound) ||
		errors.Is(err, ErrPromotionNotFound) ||
		errors.Is(err, ErrProposalNotFound)
}

// ValidationError is a client-correctable input problem.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// EligibilityError is a business-rule rejection with a suggested status code.
type EligibilityError struct {
	Reason     string
	StatusCode int
}

func (e *EligibilityError) Error() string {
	return e.Reason
}

func ineligible(reason string, code int) error {
	return &EligibilityError{Reason: reason, StatusCode: code}
}

// Eligibility is the outcome of a vote eligibility check.
type Eligibility struct {
	Eligible   bool
	Reason     string
	StatusCode int
	Voter      *Agent
}

func eligible(voter *Agent) Eligibility {
	return Eligibility{Eligible: true, StatusCode: http.StatusOK, Voter: voter}
}

func notEligible(reason string, code int) Eligibility {
	return Eligibility{Reason: reason, StatusCode: code}
}

// Err converts a negative decision into an *EligibilityError.
func (e Eligibility) Err() error {
	if e.Eligible {
		return nil
	}
	return ineligible(e.Reason, e.StatusCode)
}
