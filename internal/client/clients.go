package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/mail"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/models"
)

// ClosePaymentRequest tells the settlement node the outcome of a transaction.
type ClosePaymentRequest struct {
	TransactionID      string         `json:"transactionId"`
	Outcome            models.Outcome `json:"outcome"`
	PaymentTokens      []string       `json:"paymentTokens"`
	TotalAmount        int            `json:"totalAmount,omitempty"`
	Fee                int            `json:"fee,omitempty"`
	PspID              string         `json:"idPSP,omitempty"`
	PaymentTypeCode    string         `json:"paymentMethod,omitempty"`
	AuthorizationCode  string         `json:"authorizationCode,omitempty"`
	TimestampOperation time.Time      `json:"timestampOperation"`
}

type closePaymentResponse struct {
	Outcome models.Outcome `json:"outcome"`
}

type SettlementClient struct{ base }

func NewSettlementClient(cfg Config) *SettlementClient { return &SettlementClient{newBase(cfg)} }

// ClosePayment returns the node's own outcome for the closure.
func (c *SettlementClient) ClosePayment(ctx context.Context, req ClosePaymentRequest) (models.Outcome, error) {
	var resp closePaymentResponse
	if err := c.do(ctx, "closePayment", http.MethodPost, "/nodo/nodo-per-pm/v2/closepayment", req, &resp); err != nil {
		return "", err
	}
	return resp.Outcome, nil
}

type RefundResponse struct {
	Outcome string `json:"refundOutcome"`
}

// AuthorizationState is the gateway view of an authorization request.
type AuthorizationState struct {
	Pending           bool
	Outcome           models.Outcome
	AuthorizationCode string
}

type authorizationStateResponse struct {
	State             string `json:"state"`
	AuthorizationCode string `json:"authorizationCode"`
}

type GatewayClient struct{ base }

func NewGatewayClient(cfg Config) *GatewayClient { return &GatewayClient{newBase(cfg)} }

// RequestRefund asks gateway to reverse the authorization.
func (c *GatewayClient) RequestRefund(ctx context.Context, gateway models.PaymentGateway, authorizationRequestID string) (RefundResponse, error) {
	var path string
	switch gateway {
	case models.GatewayVPOS:
		path = "/request-payments/vpos/"
	case models.GatewayXPAY:
		path = "/request-payments/xpay/"
	case models.GatewayNPG:
		path = "/request-payments/npg/"
	default:
		return RefundResponse{}, fmt.Errorf("refund: unsupported gateway %q: %w", gateway, ErrBadRequest)
	}
	var resp RefundResponse
	err := c.do(ctx, "requestRefund", http.MethodDelete, path+url.PathEscape(authorizationRequestID), nil, &resp)
	return resp, err
}

// GetAuthorizationState fetches the NPG state of an authorization request.
func (c *GatewayClient) GetAuthorizationState(ctx context.Context, authorizationRequestID string) (AuthorizationState, error) {
	var resp authorizationStateResponse
	err := c.do(ctx, "getAuthorizationState", http.MethodGet, "/npg/state/"+url.PathEscape(authorizationRequestID), nil, &resp)
	if err != nil {
		return AuthorizationState{}, err
	}
	switch resp.State {
	case "AUTHORIZED", "EXECUTED":
		return AuthorizationState{Outcome: models.OutcomeOK, AuthorizationCode: resp.AuthorizationCode}, nil
	case "PENDING", "":
		return AuthorizationState{Pending: true}, nil
	default:
		return AuthorizationState{Outcome: models.OutcomeKO}, nil
	}
}

type NotificationsClient struct{ base }

func NewNotificationsClient(cfg Config) *NotificationsClient {
	return &NotificationsClient{newBase(cfg)}
}

func (c *NotificationsClient) SendEmail(ctx context.Context, req mail.Request) error {
	return c.do(ctx, "sendEmail", http.MethodPost, "/emails", req, nil)
}

// LastUsage is the payment method a user paid with most recently.
type LastUsage struct {
	WalletID      string    `json:"walletId,omitempty"`
	PaymentMethod string    `json:"paymentMethodId,omitempty"`
	Date          time.Time `json:"date"`
}

type UserStatsClient struct{ base }

func NewUserStatsClient(cfg Config) *UserStatsClient { return &UserStatsClient{newBase(cfg)} }

func (c *UserStatsClient) SaveLastUsage(ctx context.Context, userID string, usage LastUsage) error {
	return c.do(ctx, "saveLastUsage", http.MethodPut, "/user/"+url.PathEscape(userID)+"/lastPaymentMethodUsed", usage, nil)
}
