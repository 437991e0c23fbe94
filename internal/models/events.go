package models

import (
	"encoding/json"
	"time"
)

// EventCode identifies the kind of a transaction event.
type EventCode string

const (
	EventActivated                     EventCode = "TRANSACTION_ACTIVATED_EVENT"
	EventAuthorizationRequested        EventCode = "TRANSACTION_AUTHORIZATION_REQUESTED_EVENT"
	EventAuthorizationRequestedRetried EventCode = "TRANSACTION_AUTHORIZATION_REQUESTED_RETRIED_EVENT"
	EventAuthorizationCompleted        EventCode = "TRANSACTION_AUTHORIZATION_COMPLETED_EVENT"
	EventUserCanceled                  EventCode = "TRANSACTION_USER_CANCELED_EVENT"
	EventClosed                        EventCode = "TRANSACTION_CLOSED_EVENT"
	EventClosureError                  EventCode = "TRANSACTION_CLOSURE_ERROR_EVENT"
	EventClosureRetried                EventCode = "TRANSACTION_CLOSURE_RETRIED_EVENT"
	EventClosureFailed                 EventCode = "TRANSACTION_CLOSURE_FAILED_EVENT"
	EventUserReceiptRequested          EventCode = "TRANSACTION_USER_RECEIPT_REQUESTED_EVENT"
	EventUserReceiptAdded              EventCode = "TRANSACTION_USER_RECEIPT_ADDED_EVENT"
	EventUserReceiptAddError           EventCode = "TRANSACTION_ADD_USER_RECEIPT_ERROR_EVENT"
	EventUserReceiptAddRetried         EventCode = "TRANSACTION_ADD_USER_RECEIPT_RETRY_EVENT"
	EventExpired                       EventCode = "TRANSACTION_EXPIRED_EVENT"
	EventRefundRequested               EventCode = "TRANSACTION_REFUND_REQUESTED_EVENT"
	EventRefundError                   EventCode = "TRANSACTION_REFUND_ERROR_EVENT"
	EventRefundRetried                 EventCode = "TRANSACTION_REFUND_RETRIED_EVENT"
	EventRefunded                      EventCode = "TRANSACTION_REFUNDED_EVENT"
)

// SchemaVersion selects the payload shape of an event.
type SchemaVersion string

const (
	V1 SchemaVersion = "v1"
	V2 SchemaVersion = "v2"
)

// Outcome of a settlement closure or a user receipt.
type Outcome string

const (
	OutcomeOK Outcome = "OK"
	OutcomeKO Outcome = "KO"
)

type PaymentGateway string

const (
	GatewayNPG  PaymentGateway = "NPG"
	GatewayVPOS PaymentGateway = "VPOS"
	GatewayXPAY PaymentGateway = "XPAY"
)

// Event is an immutable entry of a transaction's event log.
// Events of one transaction are replayed ordered by CreationDate.
type Event struct {
	ID            string
	TransactionID string
	Code          EventCode
	Version       SchemaVersion
	CreationDate  time.Time
	Data          EventData // nil for codes without payload
}

// EventData is implemented by the payload types in this package only.
type EventData interface {
	eventData()
}

type PaymentNotice struct {
	PaymentToken       string `json:"paymentToken"`
	RptID              string `json:"rptId"`
	Description        string `json:"description"`
	Amount             int    `json:"amount"` // euro cents
	PaymentContextCode string `json:"paymentContextCode,omitempty"`
}

type ActivatedData struct {
	Email                       string          `json:"email"`
	PaymentNotices              []PaymentNotice `json:"paymentNotices"`
	ClientID                    string          `json:"clientId"`
	IDCart                      string          `json:"idCart,omitempty"`
	PaymentTokenValiditySeconds int             `json:"paymentTokenValiditySeconds"`
	UserID                      string          `json:"userId,omitempty"` // v2 only
}

type AuthorizationRequestData struct {
	Amount                 int            `json:"amount"`
	Fee                    int            `json:"fee"`
	PaymentInstrumentID    string         `json:"paymentInstrumentId"`
	PspID                  string         `json:"pspId"`
	PaymentTypeCode        string         `json:"paymentTypeCode"`
	PaymentMethodName      string         `json:"paymentMethodName"`
	PspBusinessName        string         `json:"pspBusinessName"`
	AuthorizationRequestID string         `json:"authorizationRequestId"`
	PaymentGateway         PaymentGateway `json:"paymentGateway"`
	WalletID               string         `json:"walletId,omitempty"` // v2 only
}

type AuthorizationCompletedData struct {
	AuthorizationCode string  `json:"authorizationCode,omitempty"`
	Outcome           Outcome `json:"authorizationResult"`
}

type ClosureData struct {
	Outcome Outcome `json:"responseOutcome"`
}

type UserReceiptData struct {
	Outcome     Outcome   `json:"responseOutcome"`
	Language    string    `json:"language"`
	PaymentDate time.Time `json:"paymentDate"`
}

// RetriedData travels inside retry-queue messages.
type RetriedData struct {
	RetryCount int `json:"retryCount"`
}

type ExpiredData struct {
	StatusBeforeExpiration Status `json:"statusBeforeExpiration"`
}

type RefundData struct {
	StatusBeforeRefund Status `json:"statusBeforeRefund"`
}

func (ActivatedData) eventData()              {}
func (AuthorizationRequestData) eventData()   {}
func (AuthorizationCompletedData) eventData() {}
func (ClosureData) eventData()                {}
func (UserReceiptData) eventData()            {}
func (RetriedData) eventData()                {}
func (ExpiredData) eventData()                {}
func (RefundData) eventData()                 {}

// TotalAmount sums the notice amounts in euro cents.
func (d ActivatedData) TotalAmount() int {
	total := 0
	for _, n := range d.PaymentNotices {
		total += n.Amount
	}
	return total
}

// TracingInfo is the optional W3C trace context attached by traced producers.
type TracingInfo struct {
	Traceparent string `json:"traceparent"`
	Tracestate  string `json:"tracestate"`
	Baggage     string `json:"baggage"`
}

// QueueEvent is the tracing envelope: {"event": ..., "tracingInfo": ...}.
type QueueEvent struct {
	Event       Event
	TracingInfo *TracingInfo
}

type wireEvent struct {
	ID            string          `json:"id"`
	TransactionID string          `json:"transactionId"`
	EventCode     EventCode       `json:"eventCode"`
	SchemaVersion SchemaVersion   `json:"schemaVersion,omitempty"`
	CreationDate  time.Time       `json:"creationDate"`
	Data          json.RawMessage `json:"data,omitempty"`
}

type wireQueueEvent struct {
	Event       json.RawMessage `json:"event"`
	TracingInfo *TracingInfo    `json:"tracingInfo"`
}

// MarshalJSON writes the shape of e.Version: v2 carries schemaVersion, v1 does not.
func (e Event) MarshalJSON() ([]byte, error) {
	w := wireEvent{
		ID:            e.ID,
		TransactionID: e.TransactionID,
		EventCode:     e.Code,
		CreationDate:  e.CreationDate.UTC(),
	}
	if e.Version == V2 {
		w.SchemaVersion = V2
	}
	if e.Data != nil {
		raw, err := json.Marshal(e.Data)
		if err != nil {
			return nil, err
		}
		w.Data = raw
	}
	return json.Marshal(w)
}

func (q QueueEvent) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(q.Event)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireQueueEvent{Event: raw, TracingInfo: q.TracingInfo})
}
