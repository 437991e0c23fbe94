// Package mail builds the user receipt e-mail request sent to the
// notifications service once the payment result is known.
package mail

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/models"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/transaction"
)

const (
	TemplateSuccess = "success"
	TemplateKO      = "ko"

	SubjectSuccess = "Il riepilogo del tuo pagamento"
	SubjectKO      = "Il pagamento non è riuscito"

	defaultLanguage = "it-IT"
)

// Request is the notifications service e-mail request.
type Request struct {
	To         string `json:"to"`
	Subject    string `json:"subject"`
	Language   string `json:"language"`
	TemplateID string `json:"templateId"`
	Parameters any    `json:"parameters"`
}

type SuccessParameters struct {
	Transaction SuccessTransaction `json:"transaction"`
	User        User               `json:"user"`
	Cart        Cart               `json:"cart"`
}

type SuccessTransaction struct {
	ID            string        `json:"id"`
	Timestamp     string        `json:"timestamp"`
	Amount        string        `json:"amount"`
	PSP           PSP           `json:"psp"`
	RRN           string        `json:"rrn"`
	AuthCode      string        `json:"authCode"`
	PaymentMethod PaymentMethod `json:"paymentMethod"`
}

type PSP struct {
	Name string `json:"name"`
	Fee  Fee    `json:"fee"`
}

type Fee struct {
	Amount string `json:"amount"`
}

type PaymentMethod struct {
	Name  string `json:"name"`
	Logo  string `json:"logo"`
	Extra bool   `json:"extra"`
}

type User struct {
	Email string `json:"email"`
}

type Cart struct {
	Items  []Item `json:"items"`
	Amount string `json:"amount"`
}

type Item struct {
	RefNumber RefNumber `json:"refNumber"`
	Payee     Payee     `json:"payee"`
	Subject   string    `json:"subject"`
	Amount    string    `json:"amount"`
}

type RefNumber struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type Payee struct {
	TaxCode string `json:"taxCode"`
}

type KOParameters struct {
	Transaction KOTransaction `json:"transaction"`
}

type KOTransaction struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Amount    string `json:"amount"`
}

type Builder struct {
	PaymentMethodLogo string
}

// Build returns the OK or KO receipt mail for a transaction waiting for, or
// retrying, its user receipt.
func (b Builder) Build(tx transaction.Transaction) (Request, error) {
	var r transaction.UserReceiptRequested
	switch t := tx.(type) {
	case transaction.UserReceiptRequested:
		r = t
	case transaction.UserReceiptError:
		r = t.UserReceiptRequested
	default:
		return Request{}, fmt.Errorf("transaction %s in status %s has no user receipt", tx.TransactionID(), tx.Status())
	}
	language := r.Receipt.Language
	if language == "" {
		language = defaultLanguage
	}
	id := strings.ToLower(r.TransactionID())
	total := AmountString(r.Data.TotalAmount())

	if r.Receipt.Outcome != models.OutcomeOK {
		return Request{
			To:         r.Data.Email,
			Subject:    SubjectKO,
			Language:   language,
			TemplateID: TemplateKO,
			Parameters: KOParameters{Transaction: KOTransaction{
				ID:        id,
				Timestamp: DateString(r.CreationDate),
				Amount:    total,
			}},
		}, nil
	}

	items := make([]Item, 0, len(r.Data.PaymentNotices))
	for _, n := range r.Data.PaymentNotices {
		fiscalCode, noticeID := splitRptID(n.RptID)
		items = append(items, Item{
			RefNumber: RefNumber{Type: "codiceAvviso", Value: noticeID},
			Payee:     Payee{TaxCode: fiscalCode},
			Subject:   n.Description,
			Amount:    AmountString(n.Amount),
		})
	}
	return Request{
		To:         r.Data.Email,
		Subject:    SubjectSuccess,
		Language:   language,
		TemplateID: TemplateSuccess,
		Parameters: SuccessParameters{
			Transaction: SuccessTransaction{
				ID:        id,
				Timestamp: DateString(r.Receipt.PaymentDate),
				Amount:    total,
				PSP:       PSP{Name: r.Authorization.PspBusinessName, Fee: Fee{Amount: AmountString(r.Authorization.Fee)}},
				RRN:       r.Authorization.AuthorizationRequestID,
				AuthCode:  r.Completed.AuthorizationCode,
				PaymentMethod: PaymentMethod{
					Name: r.Authorization.PaymentMethodName,
					Logo: b.PaymentMethodLogo,
				},
			},
			User: User{Email: r.Data.Email},
			Cart: Cart{Items: items, Amount: total},
		},
	}, nil
}

// AmountString formats euro cents as "euros,cents", e.g. 1234 -> "12,34".
func AmountString(cents int) string {
	repr := strconv.Itoa(cents)
	split := len(repr) - 2
	if split < 0 {
		split = 0
	}
	euros, c := repr[:split], repr[split:]
	if euros == "" {
		euros = "0"
	}
	if len(c) == 1 {
		c = "0" + c
	}
	return euros + "," + c
}

var months = [...]string{"gennaio", "febbraio", "marzo", "aprile", "maggio", "giugno", "luglio", "agosto", "settembre", "ottobre", "novembre", "dicembre"}

// DateString formats t as "02 gennaio 2006, 15:04:05" with hours 1-24.
func DateString(t time.Time) string {
	h := t.Hour()
	if h == 0 {
		h = 24
	}
	return fmt.Sprintf("%02d %s %d, %02d:%02d:%02d", t.Day(), months[t.Month()-1], t.Year(), h, t.Minute(), t.Second())
}

// splitRptID splits an RPT id into the payee fiscal code (11 digits) and the notice number.
func splitRptID(rptID string) (string, string) {
	if len(rptID) <= 11 {
		return rptID, ""
	}
	return rptID[:11], rptID[11:]
}
