package models

import "time"

// Status is the externally visible lifecycle stage of a transaction.
type Status string

const (
	StatusActivated              Status = "ACTIVATED"
	StatusAuthorizationRequested Status = "AUTHORIZATION_REQUESTED"
	StatusAuthorizationCompleted Status = "AUTHORIZATION_COMPLETED"
	StatusCancellationRequested  Status = "CANCELLATION_REQUESTED"
	StatusClosureError           Status = "CLOSURE_ERROR"
	StatusClosed                 Status = "CLOSED"
	StatusCanceled               Status = "CANCELED"
	StatusClosureFailed          Status = "CLOSURE_FAILED"
	StatusNotificationRequested  Status = "NOTIFICATION_REQUESTED"
	StatusNotificationError      Status = "NOTIFICATION_ERROR"
	StatusNotifiedOK             Status = "NOTIFIED_OK"
	StatusNotifiedKO             Status = "NOTIFIED_KO"
	StatusExpired                Status = "EXPIRED"
	StatusRefundRequested        Status = "REFUND_REQUESTED"
	StatusRefundError            Status = "REFUND_ERROR"
	StatusRefunded               Status = "REFUNDED"
)

// TransactionView is the denormalized read model of a transaction.
// It is a lossy cache of the latest accepted transition, never replayed.
type TransactionView struct {
	TransactionID string    `json:"transactionId"`
	Status        Status    `json:"status"`
	Amount        int       `json:"amount"`
	Email         string    `json:"email"`
	ClientID      string    `json:"clientId"`
	CreationDate  time.Time `json:"creationDate"`
}
