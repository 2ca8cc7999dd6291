package resolver_client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/manus-ai/secret-resolver/pkg/config"
	"github.com/manus-ai/secret-resolver/pkg/metrics"
	"github.com/manus-ai/secret-resolver/pkg/types"
)

// maxResponseBytes bounds how much of a resolver answer is read.
const maxResponseBytes = 64 * 1024

// TransferLookup resolves the pending transfer locked by a secrethash.
type TransferLookup interface {
	TokenForSecretHash(secrethash common.Hash) (common.Address, bool)
}

// StateChangeDispatcher applies a verified secret reveal to the node state.
type StateChangeDispatcher interface {
	DispatchSecretReveal(ctx context.Context, reveal types.VerifiedSecretReveal) error
}

// Client asks an external resolver for the secret of a pending locked
// payment. It holds no per-call state and is safe for concurrent use.
type Client struct {
	config     *config.Config
	httpClient *http.Client
	transfers  TransferLookup
	dispatcher StateChangeDispatcher
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewClient creates a new resolver client. m may be nil.
func NewClient(
	cfg *config.Config,
	transfers TransferLookup,
	dispatcher StateChangeDispatcher,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Client {
	return &Client{
		config:     cfg,
		httpClient: &http.Client{
			Timeout: cfg.Resolver.RequestTimeout,
			// a redirect is a non-200 answer, not something to follow
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		transfers:  transfers,
		dispatcher: dispatcher,
		metrics:    m,
		logger:     logger,
	}
}

// RevealSecretWithResolver asks the configured resolver for the secret of
// req and dispatches it once verified. It returns true only if a verified
// reveal was dispatched; any other outcome leaves the node state untouched.
func (c *Client) RevealSecretWithResolver(ctx context.Context, req types.SecretRequest) bool {
	reveal, err := c.resolve(ctx, req)
	if err == nil {
		if dispatchErr := c.dispatcher.DispatchSecretReveal(ctx, reveal); dispatchErr != nil {
			err = errorsmod.Wrap(types.ErrDispatchFailed, dispatchErr.Error())
		}
	}

	if err != nil {
		c.metrics.ClientAttempt(outcome(err))
		c.logFailure(req, err)
		return false
	}

	c.metrics.ClientAttempt(metrics.OutcomeRevealed)
	c.logger.Info("Secret revealed by resolver",
		zap.String("secrethash", req.SecretHash.Hex()),
		zap.String("algorithm", reveal.Algorithm().String()),
		zap.Uint64("payment_identifier", req.PaymentIdentifier))

	return true
}

func (c *Client) resolve(ctx context.Context, req types.SecretRequest) (types.VerifiedSecretReveal, error) {
	if !c.config.Resolver.Enabled() {
		return types.VerifiedSecretReveal{}, types.ErrResolverDisabled
	}

	token, ok := c.transfers.TokenForSecretHash(req.SecretHash)
	if !ok {
		return types.VerifiedSecretReveal{}, errorsmod.Wrapf(types.ErrUnknownTransfer, "secrethash %s", req.SecretHash.Hex())
	}

	request := types.NewSecretResolutionRequest(
		req,
		token,
		c.config.Node.NodeAddress(),
		c.config.Node.RevealTimeout,
		c.config.Node.SettleTimeout,
	)

	return c.FetchSecret(ctx, request)
}

// FetchSecret performs a single resolver round trip for request and returns
// the secret only if it hashes to request.SecretHash. The reveal is
// attributed to the payment sender.
func (c *Client) FetchSecret(ctx context.Context, request types.SecretResolutionRequest) (types.VerifiedSecretReveal, error) {
	if !c.config.Resolver.Enabled() {
		return types.VerifiedSecretReveal{}, types.ErrResolverDisabled
	}

	body, err := json.Marshal(request)
	if err != nil {
		return types.VerifiedSecretReveal{}, errorsmod.Wrap(types.ErrInvalidRequest, err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Resolver.Endpoint, bytes.NewReader(body))
	if err != nil {
		return types.VerifiedSecretReveal{}, errorsmod.Wrap(types.ErrInvalidRequest, err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	res, err := c.httpClient.Do(httpReq)
	c.metrics.ClientRoundTrip(time.Since(start).Seconds())
	if err != nil {
		return types.VerifiedSecretReveal{}, errorsmod.Wrap(types.ErrResolverUnreachable, err.Error())
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, maxResponseBytes))
		return types.VerifiedSecretReveal{}, errorsmod.Wrapf(types.ErrUnexpectedStatus, "status %d", res.StatusCode)
	}

	var response types.SecretResolutionResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, maxResponseBytes)).Decode(&response); err != nil {
		return types.VerifiedSecretReveal{}, errorsmod.Wrap(types.ErrMalformedResponse, err.Error())
	}
	if response.Secret == nil {
		return types.VerifiedSecretReveal{}, errorsmod.Wrap(types.ErrMalformedResponse, "missing secret")
	}

	return types.NewVerifiedSecretReveal(*response.Secret, request.SecretHash, request.PaymentSender)
}

func (c *Client) logFailure(req types.SecretRequest, err error) {
	fields := []zap.Field{
		zap.String("secrethash", req.SecretHash.Hex()),
		zap.Error(err),
	}

	switch {
	case errors.Is(err, types.ErrResolverDisabled):
		c.logger.Debug("Resolver not configured, skipping", fields...)
	case errors.Is(err, types.ErrSecretMismatch):
		c.logger.Warn("Resolver returned a secret that does not match the secrethash", fields...)
	case errors.Is(err, types.ErrUnexpectedStatus):
		c.logger.Info("Resolver did not provide the secret", fields...)
	default:
		c.logger.Warn("Secret resolution failed", fields...)
	}
}

func outcome(err error) string {
	switch {
	case errors.Is(err, types.ErrResolverDisabled):
		return metrics.OutcomeDisabled
	case errors.Is(err, types.ErrUnknownTransfer):
		return metrics.OutcomeUnknown
	case errors.Is(err, types.ErrResolverUnreachable):
		return metrics.OutcomeUnreachable
	case errors.Is(err, types.ErrUnexpectedStatus):
		return metrics.OutcomeStatus
	case errors.Is(err, types.ErrSecretMismatch):
		return metrics.OutcomeMismatch
	case errors.Is(err, types.ErrDispatchFailed):
		return metrics.OutcomeDispatch
	default:
		return metrics.OutcomeMalformed
	}
}
