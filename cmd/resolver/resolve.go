package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/manus-ai/secret-resolver/pkg/payment_registry"
	"github.com/manus-ai/secret-resolver/pkg/resolver_client"
)

var resolveFlags struct {
	endpoint   string
	secrethash string
	token      string
	sender     string
	amount     string
	paymentID  uint64
	expiration uint64
	block      uint64
}

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Ask the configured resolver for the secret of a locked payment",
	Args:  cobra.NoArgs,
	RunE:  runResolve,
}

func init() {
	f := resolveCmd.Flags()
	f.StringVar(&resolveFlags.endpoint, "endpoint", "", "Resolver endpoint, overrides resolver.endpoint")
	f.StringVar(&resolveFlags.secrethash, "secrethash", "", "Secrethash of the locked payment (0x-prefixed hex)")
	f.StringVar(&resolveFlags.token, "token", "", "Token address of the locked payment")
	f.StringVar(&resolveFlags.sender, "sender", "", "Address of the payment initiator")
	f.StringVar(&resolveFlags.amount, "amount", "0", "Payment amount in the token's smallest unit")
	f.Uint64Var(&resolveFlags.paymentID, "payment-id", 0, "Payment identifier")
	f.Uint64Var(&resolveFlags.expiration, "expiration", 0, "Lock expiration block")
	f.Uint64Var(&resolveFlags.block, "block", 0, "Current block number; a lock expiring at or before it is not resolved")
	_ = resolveCmd.MarkFlagRequired("secrethash")
}

func parsePayment() (*payment_registry.Payment, error) {
	secrethash, err := hexutil.Decode(resolveFlags.secrethash)
	if err != nil || len(secrethash) != common.HashLength {
		return nil, fmt.Errorf("invalid secrethash %q", resolveFlags.secrethash)
	}
	for name, addr := range map[string]string{"token": resolveFlags.token, "sender": resolveFlags.sender} {
		if addr != "" && !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid %s address %q", name, addr)
		}
	}
	amount, ok := new(big.Int).SetString(resolveFlags.amount, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", resolveFlags.amount)
	}

	return &payment_registry.Payment{
		SecretHash:        common.BytesToHash(secrethash),
		Token:             common.HexToAddress(resolveFlags.token),
		Amount:            amount,
		PaymentIdentifier: resolveFlags.paymentID,
		Sender:            common.HexToAddress(resolveFlags.sender),
		Expiration:        resolveFlags.expiration,
	}, nil
}

func runResolve(cmd *cobra.Command, args []string) error {
	if resolveFlags.endpoint != "" {
		cfg.Resolver.Endpoint = resolveFlags.endpoint
	}
	if !cfg.Resolver.Enabled() {
		return fmt.Errorf("no resolver endpoint configured")
	}
	if err := cfg.ValidateResolver(); err != nil {
		return err
	}

	payment, err := parsePayment()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := payment_registry.NewRegistry(logger.Named("payment_registry"))
	if err := registry.AddPayment(payment); err != nil {
		return err
	}
	if resolveFlags.block > 0 {
		if expired := registry.ExpirePayments(resolveFlags.block); expired > 0 {
			logger.Warn("Lock already expired, not asking the resolver",
				zap.String("secrethash", payment.SecretHash.Hex()),
				zap.Uint64("expiration", payment.Expiration),
				zap.Uint64("block", resolveFlags.block))
		}
	}

	client := resolver_client.NewClient(cfg, registry, registry, newMetrics(), logger.Named("resolver_client"))
	revealed := registry.ResolvePending(ctx, client)

	result, _ := registry.GetPayment(payment.SecretHash)
	logger.Info("Resolution finished",
		zap.Int("revealed", revealed),
		zap.Any("stats", registry.GetStats()))

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	if revealed == 0 {
		return fmt.Errorf("secret for %s not resolved", payment.SecretHash.Hex())
	}
	return nil
}
