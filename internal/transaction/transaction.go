// Package transaction rebuilds the state of a payment transaction from its
// event log. Each lifecycle stage is its own type and embeds the stage it
// came from, so a value only carries the data that exists at that stage.
package transaction

import (
	"time"

	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/models"
)

// Transaction is one of the state types declared in this package.
type Transaction interface {
	TransactionID() string
	Status() models.Status
	sealed()
}

// Empty is the state before any event has been applied.
type Empty struct{}

func (Empty) TransactionID() string { return "" }
func (Empty) Status() models.Status { return "" }
func (Empty) sealed() {}

type Activated struct {
	ID           string
	CreationDate time.Time
	Data         models.ActivatedData
}

func (t Activated) TransactionID() string { return t.ID }
func (Activated) Status() models.Status { return models.StatusActivated }
func (Activated) sealed() {}
func (t Activated) base() Activated { return t }

type AuthorizationRequested struct {
	Activated
	Authorization models.AuthorizationRequestData
	RequestedAt   time.Time
}

func (AuthorizationRequested) Status() models.Status { return models.StatusAuthorizationRequested }
func (t AuthorizationRequested) authorizationRequest() models.AuthorizationRequestData {
	return t.Authorization
}

type AuthorizationCompleted struct {
	AuthorizationRequested
	Completed models.AuthorizationCompletedData
}

func (AuthorizationCompleted) Status() models.Status { return models.StatusAuthorizationCompleted }

type CancellationRequested struct {
	Activated
	RequestedAt time.Time
}

func (CancellationRequested) Status() models.Status { return models.StatusCancellationRequested }

// ClosureError remembers whether the failed closure was for an authorized
// payment (AuthorizationCompleted) or a user cancellation (CancellationRequested).
type ClosureError struct {
	Activated
	Previous Transaction
}

func (ClosureError) Status() models.Status { return models.StatusClosureError }
func (t ClosureError) previousState() Transaction { return t.Previous }

type ClosureFailed struct {
	ClosureError
}

func (ClosureFailed) Status() models.Status { return models.StatusClosureFailed }

type Closed struct {
	AuthorizationCompleted
	Closure  models.ClosureData
	ClosedAt time.Time
}

func (Closed) Status() models.Status { return models.StatusClosed }

type Canceled struct {
	CancellationRequested
	Closure  models.ClosureData
	ClosedAt time.Time
}

func (Canceled) Status() models.Status { return models.StatusCanceled }

type UserReceiptRequested struct {
	Closed
	Receipt models.UserReceiptData
}

func (UserReceiptRequested) Status() models.Status { return models.StatusNotificationRequested }

type UserReceiptError struct {
	UserReceiptRequested
}

func (UserReceiptError) Status() models.Status { return models.StatusNotificationError }

type Notified struct {
	UserReceiptRequested
	Added models.UserReceiptData
}

func (t Notified) Status() models.Status {
	if t.Added.Outcome == models.OutcomeOK {
		return models.StatusNotifiedOK
	}
	return models.StatusNotifiedKO
}

type Expired struct {
	Activated
	Previous Transaction
	Data     models.ExpiredData
}

func (Expired) Status() models.Status { return models.StatusExpired }
func (t Expired) previousState() Transaction { return t.Previous }

type RefundRequested struct {
	Activated
	Previous Transaction
	Data     models.RefundData
}

func (RefundRequested) Status() models.Status { return models.StatusRefundRequested }
func (t RefundRequested) previousState() Transaction { return t.Previous }

type RefundError struct {
	RefundRequested
}

func (RefundError) Status() models.Status { return models.StatusRefundError }

type Refunded struct {
	RefundRequested
}

func (Refunded) Status() models.Status { return models.StatusRefunded }
