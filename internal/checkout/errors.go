package checkout

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/noah-isme/toko-checkout/internal/common"
)

// Kind classifies checkout failures.
type Kind string

const (
	// KindValidation is a missing precondition. Nothing was submitted.
	KindValidation Kind = "validation"
	// KindCollaborator is a clean failure of an order, session or gateway
	// call. No order exists and no payment was taken.
	KindCollaborator Kind = "collaborator"
	// KindReconciliation means the shopper may have paid but no order record
	// could be written. Operators must reconcile it.
	KindReconciliation Kind = "reconciliation"
	// KindBusy means another submission for the same shopper is in flight.
	KindBusy Kind = "busy"
	// KindInvalidState means the call does not fit the current state.
	KindInvalidState Kind = "invalid_state"
)

// Error is returned by the orchestrator for every failed transition.
type Error struct {
	Kind    Kind
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("checkout %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("checkout %s: %s", e.Kind, e.Message)
}

// Unwrap exposes the collaborator error, if any.
func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of a checkout error, or "" for other errors.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

func validationError(field, message string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: message}
}

// collaboratorError surfaces the collaborator's own message when it sent one
// and falls back to a generic text otherwise.
func collaboratorError(fallback string, err error) *Error {
	msg := fallback
	if appErr, ok := common.AsAppError(err); ok && appErr.Message != "" {
		msg = appErr.Message
	}
	return &Error{Kind: KindCollaborator, Message: msg, Err: err}
}

// AsAppError maps a checkout error onto the HTTP error model.
func AsAppError(err error) *common.AppError {
	var ce *Error
	if !errors.As(err, &ce) {
		return common.NewAppError(common.CodeInternal, "internal server error", http.StatusInternalServerError, err)
	}
	switch ce.Kind {
	case KindValidation:
		appErr := common.Validation(ce.Message, nil)
		if ce.Field != "" {
			appErr.Details = map[string]string{ce.Field: "required"}
		}
		appErr.Err = ce
		return appErr
	case KindBusy:
		return common.NewAppError("CHECKOUT_IN_PROGRESS", ce.Message, http.StatusConflict, ce)
	case KindInvalidState:
		return common.NewAppError("CHECKOUT_INVALID_STATE", ce.Message, http.StatusConflict, ce)
	case KindReconciliation:
		return common.NewAppError("RECONCILIATION_REQUIRED", ce.Message, http.StatusAccepted, ce)
	default:
		return common.NewAppError(common.CodeUpstream, ce.Message, http.StatusBadGateway, ce)
	}
}
