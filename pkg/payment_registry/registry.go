package payment_registry

import (
	"context"
	"math/big"
	"sync"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/manus-ai/secret-resolver/pkg/types"
)

// Registry tracks locked payments waiting for their secret. It serves as
// the transfer lookup and the state change sink of a resolver client.
type Registry struct {
	logger *zap.Logger

	payments      map[common.Hash]*Payment
	paymentsMutex sync.RWMutex
}

// Payment represents a pending locked payment
type Payment struct {
	SecretHash        common.Hash    `json:"secrethash"`
	Token             common.Address `json:"token"`
	Amount            *big.Int       `json:"amount"`
	PaymentIdentifier uint64         `json:"payment_identifier"`
	Sender            common.Address `json:"payment_sender"`
	// Expiration is a block number
	Expiration uint64        `json:"expiration"`
	Status     PaymentStatus `json:"status"`

	// Set once a verified secret has been dispatched
	Secret        hexutil.Bytes  `json:"secret,omitempty"`
	HashAlgorithm string         `json:"hash_algorithm,omitempty"`
	RevealedBy    common.Address `json:"revealed_by"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PaymentStatus represents the status of a payment
type PaymentStatus string

const (
	PaymentStatusPending        PaymentStatus = "pending"
	PaymentStatusSecretRevealed PaymentStatus = "secret_revealed"
	PaymentStatusExpired        PaymentStatus = "expired"
)

// SecretRequest returns the secret request the node would send for p.
func (p *Payment) SecretRequest() types.SecretRequest {
	return types.SecretRequest{
		SecretHash:        p.SecretHash,
		Amount:            p.Amount,
		PaymentIdentifier: p.PaymentIdentifier,
		Sender:            p.Sender,
		Expiration:        p.Expiration,
	}
}

func (p *Payment) copy() *Payment {
	c := *p
	if p.Amount != nil {
		c.Amount = new(big.Int).Set(p.Amount)
	}
	c.Secret = common.CopyBytes(p.Secret)
	return &c
}

// NewRegistry creates an empty payment registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger:   logger,
		payments: make(map[common.Hash]*Payment),
	}
}

// AddPayment registers a pending payment. A secrethash can only be
// registered once.
func (r *Registry) AddPayment(payment *Payment) error {
	r.paymentsMutex.Lock()
	defer r.paymentsMutex.Unlock()

	if _, exists := r.payments[payment.SecretHash]; exists {
		return errorsmod.Wrapf(types.ErrInvalidRequest, "payment with secrethash %s already registered", payment.SecretHash.Hex())
	}

	now := time.Now()
	p := payment.copy()
	p.Status = PaymentStatusPending
	p.CreatedAt = now
	p.UpdatedAt = now
	r.payments[p.SecretHash] = p

	r.logger.Info("Payment registered",
		zap.String("secrethash", p.SecretHash.Hex()),
		zap.Uint64("payment_identifier", p.PaymentIdentifier))

	return nil
}

// GetPayment returns a copy of the payment locked by secrethash
func (r *Registry) GetPayment(secrethash common.Hash) (*Payment, bool) {
	r.paymentsMutex.RLock()
	defer r.paymentsMutex.RUnlock()

	p, exists := r.payments[secrethash]
	if !exists {
		return nil, false
	}
	return p.copy(), true
}

// PendingPayments returns copies of all payments still waiting for a secret
func (r *Registry) PendingPayments() []*Payment {
	r.paymentsMutex.RLock()
	defer r.paymentsMutex.RUnlock()

	payments := make([]*Payment, 0, len(r.payments))
	for _, p := range r.payments {
		if p.Status == PaymentStatusPending {
			payments = append(payments, p.copy())
		}
	}
	return payments
}

// TokenForSecretHash returns the token of the pending payment locked by
// secrethash.
func (r *Registry) TokenForSecretHash(secrethash common.Hash) (common.Address, bool) {
	r.paymentsMutex.RLock()
	defer r.paymentsMutex.RUnlock()

	p, exists := r.payments[secrethash]
	if !exists || p.Status != PaymentStatusPending {
		return common.Address{}, false
	}
	return p.Token, true
}

// DispatchSecretReveal records a verified secret on its pending payment.
func (r *Registry) DispatchSecretReveal(_ context.Context, reveal types.VerifiedSecretReveal) error {
	r.paymentsMutex.Lock()
	defer r.paymentsMutex.Unlock()

	p, exists := r.payments[reveal.SecretHash()]
	if !exists {
		return errorsmod.Wrapf(types.ErrUnknownTransfer, "secrethash %s", reveal.SecretHash().Hex())
	}
	if p.Status != PaymentStatusPending {
		return errorsmod.Wrapf(types.ErrUnknownTransfer, "payment %s is %s", reveal.SecretHash().Hex(), p.Status)
	}

	p.Secret = reveal.Secret()
	p.HashAlgorithm = reveal.Algorithm().String()
	p.RevealedBy = reveal.RevealingParty()
	p.Status = PaymentStatusSecretRevealed
	p.UpdatedAt = time.Now()

	r.logger.Info("Secret revealed",
		zap.String("secrethash", p.SecretHash.Hex()),
		zap.String("algorithm", p.HashAlgorithm))

	return nil
}

// ExpirePayments marks pending payments whose expiration is at or below
// blockNumber as expired and returns how many were expired.
func (r *Registry) ExpirePayments(blockNumber uint64) int {
	r.paymentsMutex.Lock()
	defer r.paymentsMutex.Unlock()

	expired := 0
	for _, p := range r.payments {
		if p.Status == PaymentStatusPending && p.Expiration <= blockNumber {
			p.Status = PaymentStatusExpired
			p.UpdatedAt = time.Now()
			expired++
			r.logger.Info("Payment expired", zap.String("secrethash", p.SecretHash.Hex()))
		}
	}
	return expired
}

// GetStats returns statistics about the registered payments
func (r *Registry) GetStats() map[string]interface{} {
	r.paymentsMutex.RLock()
	defer r.paymentsMutex.RUnlock()

	statusCounts := make(map[PaymentStatus]int)
	for _, p := range r.payments {
		statusCounts[p.Status]++
	}

	return map[string]interface{}{
		"total_payments": len(r.payments),
		"status_counts":  statusCounts,
	}
}
