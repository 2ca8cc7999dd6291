package payment_registry

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/manus-ai/secret-resolver/pkg/types"
)

// Resolver asks an external party for the secret of a pending payment.
type Resolver interface {
	RevealSecretWithResolver(ctx context.Context, req types.SecretRequest) bool
}

// ResolvePending runs one resolution attempt per pending payment, in
// parallel, and returns how many secrets were revealed.
func (r *Registry) ResolvePending(ctx context.Context, resolver Resolver) int {
	var (
		wg       sync.WaitGroup
		revealed atomic.Int64
	)

	for _, p := range r.PendingPayments() {
		wg.Add(1)
		go func(req types.SecretRequest) {
			defer wg.Done()
			if resolver.RevealSecretWithResolver(ctx, req) {
				revealed.Add(1)
			}
		}(p.SecretRequest())
	}

	wg.Wait()
	return int(revealed.Load())
}
