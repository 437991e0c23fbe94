package consumers

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/client"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/models"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/transaction"
)

// ErrAuthorizationPending is the retry cause while the gateway has no outcome yet.
var ErrAuthorizationPending = errors.New("authorization outcome still pending")

// Authorization wires the authorization-requested consumer.
type Authorization struct {
	Gateway   Gateway
	UserStats UserStats // optional
	Retry     Retrier
}

type authorizer struct {
	pipeline
	Authorization
}

// NewAuthorizationRequested fetches the NPG authorization state of
// transactions waiting for it and completes the authorization.
func NewAuthorizationRequested(d Deps, a Authorization) *Runner {
	au := authorizer{pipeline: newPipeline(d), Authorization: a}
	return newRunner(AuthorizationRequestedName, d, au.run, models.EventAuthorizationRequested, models.EventAuthorizationRequestedRetried)
}

func (a authorizer) run(ctx context.Context, in Input) (Outcome, error) {
	tx, err := a.load(ctx, in.Event.TransactionID)
	if err != nil {
		return "", err
	}
	if err := expect(tx, in.Event.TransactionID, models.StatusAuthorizationRequested); err != nil {
		return "", err
	}
	ar := tx.(transaction.AuthorizationRequested)
	logger := in.Logger.With().Str("gateway", string(ar.Authorization.PaymentGateway)).Logger()

	if in.Event.Code == models.EventAuthorizationRequested {
		a.saveLastUsage(ctx, ar, in.Event.CreationDate, logger)
	}
	if ar.Authorization.PaymentGateway != models.GatewayNPG {
		logger.Info().Msg("authorization not requested via NPG, no action needed")
		return OutcomeSucceeded, nil
	}

	start := time.Now()
	state, err := a.Gateway.GetAuthorizationState(ctx, ar.Authorization.AuthorizationRequestID)
	observeEffect("get_authorization_state", start)
	switch {
	case err != nil && client.IsUnrecoverable(err):
		logger.Error().Err(err).Msg("unrecoverable error while fetching authorization state")
		return OutcomeDiscarded, nil
	case err == nil && state.Pending:
		err = ErrAuthorizationPending
	case err == nil:
		completed := models.AuthorizationCompletedData{AuthorizationCode: state.AuthorizationCode, Outcome: state.Outcome}
		if _, err := a.persist(ctx, tx, models.EventAuthorizationCompleted, completed, logger); err != nil {
			return "", err
		}
		return OutcomeSucceeded, nil
	}
	logger.Warn().Err(err).Int("attempt", in.Attempt()).Msg("authorization state not available")

	scheduled, rerr := scheduleRetry(ctx, a.Retry, tx, in.Attempt(), in.Tracing, logger)
	if rerr == nil {
		return scheduled, nil
	}
	var infraErr *InfrastructureError
	if errors.As(rerr, &infraErr) {
		return "", rerr
	}
	return "", exhausted("authorization state", errors.Join(rerr, err))
}

// saveLastUsage records the method an authenticated user paid with. Failures
// are logged only.
func (a authorizer) saveLastUsage(ctx context.Context, tx transaction.AuthorizationRequested, at time.Time, logger zerolog.Logger) {
	if a.UserStats == nil || tx.Data.UserID == "" {
		return
	}
	usage := client.LastUsage{Date: at}
	if tx.Authorization.WalletID != "" {
		usage.WalletID = tx.Authorization.WalletID
	} else {
		usage.PaymentMethod = tx.Authorization.PaymentInstrumentID
	}
	start := time.Now()
	err := a.UserStats.SaveLastUsage(ctx, tx.Data.UserID, usage)
	observeEffect("save_last_usage", start)
	if err != nil {
		logger.Warn().Err(err).Msg("save last payment method usage failed")
	}
}
