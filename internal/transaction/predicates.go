package transaction

import (
	"time"

	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/models"
)

// IsTransient reports whether a transaction in status s may still be expired.
func IsTransient(s models.Status) bool {
	switch s {
	case models.StatusActivated,
		models.StatusAuthorizationRequested,
		models.StatusAuthorizationCompleted,
		models.StatusCancellationRequested,
		models.StatusClosureError,
		models.StatusClosed,
		models.StatusNotificationRequested,
		models.StatusNotificationError:
		return true
	}
	return false
}

// IsRefundable reports whether money may have been taken from the user
// without the payment being settled successfully.
func IsRefundable(tx Transaction) bool {
	switch t := tx.(type) {
	case AuthorizationRequested, AuthorizationCompleted:
		return true
	case ClosureError:
		_, authorized := t.Previous.(AuthorizationCompleted)
		return authorized
	case Closed:
		return t.Completed.Outcome == models.OutcomeOK && t.Closure.Outcome != models.OutcomeOK
	case UserReceiptRequested:
		return t.Receipt.Outcome != models.OutcomeOK
	case UserReceiptError:
		return t.Receipt.Outcome != models.OutcomeOK
	case Notified:
		return t.Added.Outcome != models.OutcomeOK
	case Expired:
		return IsRefundable(t.Previous)
	}
	return false
}

// AuthorizationOf returns the authorization request data of tx, following
// ClosureError, Expired and refund states back to the state that carried it.
func AuthorizationOf(tx Transaction) (models.AuthorizationRequestData, bool) {
	switch t := tx.(type) {
	case interface {
		authorizationRequest() models.AuthorizationRequestData
	}:
		return t.authorizationRequest(), true
	case interface{ previousState() Transaction }:
		return AuthorizationOf(t.previousState())
	}
	return models.AuthorizationRequestData{}, false
}

// BaseOf returns the activation data shared by every non-empty state.
func BaseOf(tx Transaction) (Activated, bool) {
	if b, ok := tx.(interface{ base() Activated }); ok {
		return b.base(), true
	}
	return Activated{}, false
}

// AwaitingOutcomeSince returns when the settlement node accepted the closure
// if tx is still waiting for the node to send the payment result.
func AwaitingOutcomeSince(tx Transaction) (time.Time, bool) {
	if t, ok := tx.(Closed); ok && t.Closure.Outcome == models.OutcomeOK {
		return t.ClosedAt, true
	}
	return time.Time{}, false
}

// Amount is the total of the payment notices in euro cents.
func Amount(tx Transaction) int {
	b, ok := BaseOf(tx)
	if !ok {
		return 0
	}
	return b.Data.TotalAmount()
}
