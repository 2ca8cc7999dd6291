// Package types defines the resolver wire messages, the secret verification
// step and the errors shared by the resolver client and server.
package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// SecretRequest is the transfer state machine's request for the secret of a
// pending locked payment. Sender is the payment initiator.
type SecretRequest struct {
	SecretHash        common.Hash
	Amount            *big.Int
	PaymentIdentifier uint64
	Sender            common.Address
	Expiration        uint64
}

// SecretResolutionRequest is the JSON body POSTed to a resolver.
type SecretResolutionRequest struct {
	Token             common.Address `json:"token"`
	SecretHash        common.Hash    `json:"secrethash"`
	Amount            *big.Int       `json:"amount"`
	PaymentIdentifier uint64         `json:"payment_identifier"`
	PaymentSender     common.Address `json:"payment_sender"`
	PaymentRecipient  common.Address `json:"payment_recipient"`
	Expiration        uint64         `json:"expiration"`
	RevealTimeout     uint64         `json:"reveal_timeout"`
	SettleTimeout     uint64         `json:"settle_timeout"`
}

// NewSecretResolutionRequest builds the resolver request for a pending
// payment of token addressed to recipient.
func NewSecretResolutionRequest(
	req SecretRequest,
	token common.Address,
	recipient common.Address,
	revealTimeout uint64,
	settleTimeout uint64,
) SecretResolutionRequest {
	amount := new(big.Int)
	if req.Amount != nil {
		amount.Set(req.Amount)
	}

	return SecretResolutionRequest{
		Token:             token,
		SecretHash:        req.SecretHash,
		Amount:            amount,
		PaymentIdentifier: req.PaymentIdentifier,
		PaymentSender:     req.Sender,
		PaymentRecipient:  recipient,
		Expiration:        req.Expiration,
		RevealTimeout:     revealTimeout,
		SettleTimeout:     settleTimeout,
	}
}

// SecretResolutionResponse is the body of a 200 answer. Secret is nil when
// the field is absent.
type SecretResolutionResponse struct {
	Secret *hexutil.Bytes `json:"secret"`
}
