package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Shape is one of the wire forms a queue payload may take.
type Shape struct {
	Version SchemaVersion
	Traced  bool
}

func (s Shape) String() string {
	if s.Traced {
		return string(s.Version) + "/traced"
	}
	return string(s.Version) + "/bare"
}

// DecodeOrder is the precedence used by Parse: most recent schema first and,
// within a schema, the tracing envelope before the bare event. The shapes are
// disjoint under strict decoding, so the order only matters for diagnostics
// and for any future shape that relaxes strictness.
var DecodeOrder = []Shape{
	{Version: V2, Traced: true},
	{Version: V2, Traced: false},
	{Version: V1, Traced: true},
	{Version: V1, Traced: false},
}

// ParseError reports a payload that matched none of the accepted shapes.
// Payload is the original message body, kept for dead-lettering.
type ParseError struct {
	Payload  []byte
	Failures []string
}

func (e *ParseError) Error() string {
	return "unparseable event: " + strings.Join(e.Failures, "; ")
}

// Parse trial-decodes payload against DecodeOrder and returns the first shape
// whose event code is one of accepted.
func Parse(payload []byte, accepted ...EventCode) (QueueEvent, Shape, error) {
	failures := make([]string, 0, len(DecodeOrder))
	for _, shape := range DecodeOrder {
		qe, err := decodeShape(payload, shape)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", shape, err))
			continue
		}
		if !acceptedCode(qe.Event.Code, accepted) {
			failures = append(failures, fmt.Sprintf("%s: event code %s not handled", shape, qe.Event.Code))
			continue
		}
		return qe, shape, nil
	}
	return QueueEvent{}, Shape{}, &ParseError{Payload: payload, Failures: failures}
}

// ParseStored decodes an event as persisted in the event log (bare, any version).
func ParseStored(raw []byte) (Event, error) {
	ev, err := decodeEvent(raw, V2)
	if err == nil {
		return ev, nil
	}
	ev, errV1 := decodeEvent(raw, V1)
	if errV1 != nil {
		return Event{}, fmt.Errorf("decode stored event: v2: %v; v1: %w", err, errV1)
	}
	return ev, nil
}

func acceptedCode(code EventCode, accepted []EventCode) bool {
	for _, c := range accepted {
		if c == code {
			return true
		}
	}
	return false
}

func decodeShape(payload []byte, shape Shape) (QueueEvent, error) {
	if !shape.Traced {
		ev, err := decodeEvent(payload, shape.Version)
		if err != nil {
			return QueueEvent{}, err
		}
		return QueueEvent{Event: ev}, nil
	}
	var w wireQueueEvent
	if err := strictUnmarshal(payload, &w); err != nil {
		return QueueEvent{}, err
	}
	if len(w.Event) == 0 {
		return QueueEvent{}, errors.New("missing event")
	}
	ev, err := decodeEvent(w.Event, shape.Version)
	if err != nil {
		return QueueEvent{}, err
	}
	return QueueEvent{Event: ev, TracingInfo: w.TracingInfo}, nil
}

func decodeEvent(raw []byte, version SchemaVersion) (Event, error) {
	var w wireEvent
	if err := strictUnmarshal(raw, &w); err != nil {
		return Event{}, err
	}
	if w.TransactionID == "" || w.EventCode == "" {
		return Event{}, errors.New("missing transactionId or eventCode")
	}
	switch version {
	case V2:
		if w.SchemaVersion != V2 {
			return Event{}, fmt.Errorf("schemaVersion %q is not v2", w.SchemaVersion)
		}
	case V1:
		if w.SchemaVersion != "" {
			return Event{}, fmt.Errorf("schemaVersion %q on legacy event", w.SchemaVersion)
		}
	}
	decode, known := payloads[version][w.EventCode]
	if !known {
		return Event{}, fmt.Errorf("event code %s not defined for schema %s", w.EventCode, version)
	}
	hasData := len(w.Data) > 0 && !bytes.Equal(bytes.TrimSpace(w.Data), []byte("null"))
	var data EventData
	switch {
	case decode == nil && hasData:
		return Event{}, fmt.Errorf("event code %s carries no data", w.EventCode)
	case decode != nil && !hasData:
		return Event{}, fmt.Errorf("event code %s requires data", w.EventCode)
	case decode != nil:
		d, err := decode(w.Data)
		if err != nil {
			return Event{}, fmt.Errorf("%s data: %w", w.EventCode, err)
		}
		data = d
	}
	return Event{
		ID:            w.ID,
		TransactionID: w.TransactionID,
		Code:          w.EventCode,
		Version:       version,
		CreationDate:  w.CreationDate,
		Data:          data,
	}, nil
}

func strictUnmarshal(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("trailing data after JSON value")
	}
	return nil
}

type dataDecoder func(raw []byte) (EventData, error)

// payloads lists, per schema, every known code and its data decoder.
// A nil decoder means the code carries no data.
var payloads = map[SchemaVersion]map[EventCode]dataDecoder{
	V1: {
		EventActivated:              decodeActivatedV1,
		EventAuthorizationRequested: decodeAuthorizationRequestV1,
		EventAuthorizationCompleted: decodeAs[AuthorizationCompletedData],
		EventUserCanceled:           nil,
		EventClosed:                 decodeAs[ClosureData],
		EventClosureError:           nil,
		EventClosureRetried:         decodeAs[RetriedData],
		EventClosureFailed:          nil,
		EventUserReceiptRequested:   decodeAs[UserReceiptData],
		EventUserReceiptAdded:       decodeAs[UserReceiptData],
		EventUserReceiptAddError:    decodeAs[UserReceiptData],
		EventUserReceiptAddRetried:  decodeAs[RetriedData],
		EventExpired:                decodeAs[ExpiredData],
		EventRefundRequested:        decodeAs[RefundData],
		EventRefundError:            decodeAs[RefundData],
		EventRefundRetried:          decodeAs[RetriedData],
		EventRefunded:               decodeAs[RefundData],
	},
	V2: {
		EventActivated:                     decodeAs[ActivatedData],
		EventAuthorizationRequested:        decodeAs[AuthorizationRequestData],
		EventAuthorizationRequestedRetried: decodeAs[RetriedData],
		EventAuthorizationCompleted:        decodeAs[AuthorizationCompletedData],
		EventUserCanceled:                  nil,
		EventClosed:                        decodeAs[ClosureData],
		EventClosureError:                  nil,
		EventClosureRetried:                decodeAs[RetriedData],
		EventClosureFailed:                 nil,
		EventUserReceiptRequested:          decodeAs[UserReceiptData],
		EventUserReceiptAdded:              decodeAs[UserReceiptData],
		EventUserReceiptAddError:           decodeAs[UserReceiptData],
		EventUserReceiptAddRetried:         decodeAs[RetriedData],
		EventExpired:                       decodeAs[ExpiredData],
		EventRefundRequested:               decodeAs[RefundData],
		EventRefundError:                   decodeAs[RefundData],
		EventRefundRetried:                 decodeAs[RetriedData],
		EventRefunded:                      decodeAs[RefundData],
	},
}

func decodeAs[T EventData](raw []byte) (EventData, error) {
	var v T
	if err := strictUnmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

type activatedDataV1 struct {
	Email                       string          `json:"email"`
	PaymentNotices              []PaymentNotice `json:"paymentNotices"`
	ClientID                    string          `json:"clientId"`
	IDCart                      string          `json:"idCart,omitempty"`
	PaymentTokenValiditySeconds int             `json:"paymentTokenValiditySeconds"`
}

func decodeActivatedV1(raw []byte) (EventData, error) {
	var v activatedDataV1
	if err := strictUnmarshal(raw, &v); err != nil {
		return nil, err
	}
	return ActivatedData{
		Email:                       v.Email,
		PaymentNotices:              v.PaymentNotices,
		ClientID:                    v.ClientID,
		IDCart:                      v.IDCart,
		PaymentTokenValiditySeconds: v.PaymentTokenValiditySeconds,
	}, nil
}

type authorizationRequestDataV1 struct {
	Amount                 int            `json:"amount"`
	Fee                    int            `json:"fee"`
	PaymentInstrumentID    string         `json:"paymentInstrumentId"`
	PspID                  string         `json:"pspId"`
	PaymentTypeCode        string         `json:"paymentTypeCode"`
	PaymentMethodName      string         `json:"paymentMethodName"`
	PspBusinessName        string         `json:"pspBusinessName"`
	AuthorizationRequestID string         `json:"authorizationRequestId"`
	PaymentGateway         PaymentGateway `json:"paymentGateway"`
}

func decodeAuthorizationRequestV1(raw []byte) (EventData, error) {
	var v authorizationRequestDataV1
	if err := strictUnmarshal(raw, &v); err != nil {
		return nil, err
	}
	return AuthorizationRequestData(v.toV2()), nil
}

func (v authorizationRequestDataV1) toV2() AuthorizationRequestData {
	return AuthorizationRequestData{
		Amount:                 v.Amount,
		Fee:                    v.Fee,
		PaymentInstrumentID:    v.PaymentInstrumentID,
		PspID:                  v.PspID,
		PaymentTypeCode:        v.PaymentTypeCode,
		PaymentMethodName:      v.PaymentMethodName,
		PspBusinessName:        v.PspBusinessName,
		AuthorizationRequestID: v.AuthorizationRequestID,
		PaymentGateway:         v.PaymentGateway,
	}
}
