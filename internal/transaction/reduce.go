package transaction

import (
	"fmt"

	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/models"
)

// InvalidTransitionError is returned when an event cannot be applied to the
// current state. It signals corrupted or misrouted data, never a benign skip.
type InvalidTransitionError struct {
	TransactionID string
	From          models.Status
	Code          models.EventCode
	Reason        string
}

func (e *InvalidTransitionError) Error() string {
	from := string(e.From)
	if from == "" {
		from = "EMPTY"
	}
	msg := fmt.Sprintf("transaction %s: event %s not applicable in status %s", e.TransactionID, e.Code, from)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Reduce folds events, already ordered by creation date, starting from Empty.
func Reduce(events []models.Event) (Transaction, error) {
	var tx Transaction = Empty{}
	for _, ev := range events {
		next, err := Apply(tx, ev)
		if err != nil {
			return nil, err
		}
		tx = next
	}
	return tx, nil
}

// Apply returns the single successor of tx for ev.
func Apply(tx Transaction, ev models.Event) (Transaction, error) {
	if _, empty := tx.(Empty); !empty && ev.TransactionID != tx.TransactionID() {
		return nil, invalid(tx, ev, "event belongs to transaction "+ev.TransactionID)
	}
	switch t := tx.(type) {
	case Empty:
		if ev.Code == models.EventActivated {
			d, err := dataOf[models.ActivatedData](tx, ev)
			if err != nil {
				return nil, err
			}
			return Activated{ID: ev.TransactionID, CreationDate: ev.CreationDate, Data: d}, nil
		}
	case Activated:
		switch ev.Code {
		case models.EventAuthorizationRequested:
			d, err := dataOf[models.AuthorizationRequestData](tx, ev)
			if err != nil {
				return nil, err
			}
			return AuthorizationRequested{Activated: t, Authorization: d, RequestedAt: ev.CreationDate}, nil
		case models.EventUserCanceled:
			return CancellationRequested{Activated: t, RequestedAt: ev.CreationDate}, nil
		case models.EventExpired:
			return expire(tx, ev)
		}
	case AuthorizationRequested:
		switch ev.Code {
		case models.EventAuthorizationCompleted:
			d, err := dataOf[models.AuthorizationCompletedData](tx, ev)
			if err != nil {
				return nil, err
			}
			return AuthorizationCompleted{AuthorizationRequested: t, Completed: d}, nil
		case models.EventExpired:
			return expire(tx, ev)
		}
	case AuthorizationCompleted:
		switch ev.Code {
		case models.EventClosed:
			d, err := dataOf[models.ClosureData](tx, ev)
			if err != nil {
				return nil, err
			}
			return Closed{AuthorizationCompleted: t, Closure: d, ClosedAt: ev.CreationDate}, nil
		case models.EventClosureError:
			return ClosureError{Activated: t.Activated, Previous: t}, nil
		case models.EventExpired:
			return expire(tx, ev)
		}
	case CancellationRequested:
		switch ev.Code {
		case models.EventClosed:
			d, err := dataOf[models.ClosureData](tx, ev)
			if err != nil {
				return nil, err
			}
			return Canceled{CancellationRequested: t, Closure: d, ClosedAt: ev.CreationDate}, nil
		case models.EventClosureError:
			return ClosureError{Activated: t.Activated, Previous: t}, nil
		case models.EventExpired:
			return expire(tx, ev)
		}
	case ClosureError:
		switch ev.Code {
		case models.EventClosed:
			d, err := dataOf[models.ClosureData](tx, ev)
			if err != nil {
				return nil, err
			}
			switch prev := t.Previous.(type) {
			case AuthorizationCompleted:
				return Closed{AuthorizationCompleted: prev, Closure: d, ClosedAt: ev.CreationDate}, nil
			case CancellationRequested:
				return Canceled{CancellationRequested: prev, Closure: d, ClosedAt: ev.CreationDate}, nil
			}
		case models.EventClosureFailed:
			return ClosureFailed{ClosureError: t}, nil
		case models.EventExpired:
			return expire(tx, ev)
		case models.EventRefundRequested:
			return requestRefund(tx, ev)
		}
	case Closed:
		switch ev.Code {
		case models.EventUserReceiptRequested:
			d, err := dataOf[models.UserReceiptData](tx, ev)
			if err != nil {
				return nil, err
			}
			return UserReceiptRequested{Closed: t, Receipt: d}, nil
		case models.EventExpired:
			return expire(tx, ev)
		case models.EventRefundRequested:
			return requestRefund(tx, ev)
		}
	case UserReceiptRequested:
		switch ev.Code {
		case models.EventUserReceiptAdded:
			d, err := dataOf[models.UserReceiptData](tx, ev)
			if err != nil {
				return nil, err
			}
			return Notified{UserReceiptRequested: t, Added: d}, nil
		case models.EventUserReceiptAddError:
			return UserReceiptError{UserReceiptRequested: t}, nil
		case models.EventExpired:
			return expire(tx, ev)
		}
	case UserReceiptError:
		switch ev.Code {
		case models.EventUserReceiptAdded:
			d, err := dataOf[models.UserReceiptData](tx, ev)
			if err != nil {
				return nil, err
			}
			return Notified{UserReceiptRequested: t.UserReceiptRequested, Added: d}, nil
		case models.EventExpired:
			return expire(tx, ev)
		case models.EventRefundRequested:
			return requestRefund(tx, ev)
		}
	case Notified:
		if ev.Code == models.EventRefundRequested {
			return requestRefund(tx, ev)
		}
	case Expired:
		if ev.Code == models.EventRefundRequested {
			return requestRefund(tx, ev)
		}
	case RefundRequested:
		switch ev.Code {
		case models.EventRefunded:
			return Refunded{RefundRequested: t}, nil
		case models.EventRefundError:
			return RefundError{RefundRequested: t}, nil
		}
	case RefundError:
		if ev.Code == models.EventRefunded {
			return Refunded{RefundRequested: t.RefundRequested}, nil
		}
	}
	return nil, invalid(tx, ev, "")
}

func expire(tx Transaction, ev models.Event) (Transaction, error) {
	d, err := dataOf[models.ExpiredData](tx, ev)
	if err != nil {
		return nil, err
	}
	base, _ := BaseOf(tx)
	return Expired{Activated: base, Previous: tx, Data: d}, nil
}

func requestRefund(tx Transaction, ev models.Event) (Transaction, error) {
	d, err := dataOf[models.RefundData](tx, ev)
	if err != nil {
		return nil, err
	}
	base, _ := BaseOf(tx)
	return RefundRequested{Activated: base, Previous: tx, Data: d}, nil
}

func dataOf[T models.EventData](tx Transaction, ev models.Event) (T, error) {
	d, ok := ev.Data.(T)
	if !ok {
		var zero T
		return zero, invalid(tx, ev, fmt.Sprintf("unexpected data %T", ev.Data))
	}
	return d, nil
}

func invalid(tx Transaction, ev models.Event, reason string) error {
	id := tx.TransactionID()
	if id == "" {
		id = ev.TransactionID
	}
	return &InvalidTransitionError{TransactionID: id, From: tx.Status(), Code: ev.Code, Reason: reason}
}
