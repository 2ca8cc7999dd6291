package resolver_client_test

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/manus-ai/secret-resolver/pkg/config"
	"github.com/manus-ai/secret-resolver/pkg/metrics"
	"github.com/manus-ai/secret-resolver/pkg/resolver_client"
	"github.com/manus-ai/secret-resolver/pkg/resolver_server"
	"github.com/manus-ai/secret-resolver/pkg/types"
)

var (
	token     = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	sender    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	recipient = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) DispatchSecretReveal(ctx context.Context, reveal types.VerifiedSecretReveal) error {
	return m.Called(ctx, reveal).Error(0)
}

type staticLookup map[common.Hash]common.Address

func (l staticLookup) TokenForSecretHash(secrethash common.Hash) (common.Address, bool) {
	tok, ok := l[secrethash]
	return tok, ok
}

func testConfig(endpoint string) *config.Config {
	return &config.Config{
		Node: config.NodeConfig{
			Address:       recipient.Hex(),
			RevealTimeout: 50,
			SettleTimeout: 500,
		},
		Resolver: config.ResolverConfig{
			Endpoint:       endpoint,
			RequestTimeout: 2 * time.Second,
		},
	}
}

func secretRequest(secrethash common.Hash) types.SecretRequest {
	return types.SecretRequest{
		SecretHash:        secrethash,
		Amount:            big.NewInt(10),
		PaymentIdentifier: 7,
		Sender:            sender,
		Expiration:        1000,
	}
}

// respondWith returns a resolver that answers every request with status and body.
func respondWith(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func TestRevealSecretWithResolver(t *testing.T) {
	secret := []byte("deadbeef")
	keccakHash := crypto.Keccak256Hash(secret)
	sha256Hash := common.Hash(sha256.Sum256(secret))
	secretBody := `{"secret":"0x6465616462656566"}`

	var redirectTargetHits atomic.Int32
	redirectTarget := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		redirectTargetHits.Add(1)
		respondWith(http.StatusOK, secretBody)(w, r)
	}))
	defer redirectTarget.Close()

	tests := []struct {
		name       string
		secrethash common.Hash
		handler    http.HandlerFunc
		revealed   bool
		algo       types.HashAlgorithm
	}{
		{
			name:       "keccak256 secret",
			secrethash: keccakHash,
			handler:    respondWith(http.StatusOK, secretBody),
			revealed:   true,
			algo:       types.HashAlgoKeccak256,
		},
		{
			name:       "sha256 secret",
			secrethash: sha256Hash,
			handler:    respondWith(http.StatusOK, secretBody),
			revealed:   true,
			algo:       types.HashAlgoSHA256,
		},
		{
			name:       "secret matching neither algorithm",
			secrethash: sha256Hash,
			handler:    respondWith(http.StatusOK, `{"secret":"0xcafebabe"}`),
		},
		{
			name:       "not found",
			secrethash: sha256Hash,
			handler:    respondWith(http.StatusNotFound, ""),
		},
		{
			name:       "bad request",
			secrethash: sha256Hash,
			handler:    respondWith(http.StatusBadRequest, ""),
		},
		{
			name:       "server error carrying a valid secret",
			secrethash: sha256Hash,
			handler:    respondWith(http.StatusInternalServerError, secretBody),
		},
		{
			name:       "created is not ok",
			secrethash: sha256Hash,
			handler:    respondWith(http.StatusCreated, secretBody),
		},
		{
			name:       "temporary redirect to a resolver holding the secret",
			secrethash: sha256Hash,
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, redirectTarget.URL, http.StatusTemporaryRedirect)
			},
		},
		{
			name:       "permanent redirect to a resolver holding the secret",
			secrethash: sha256Hash,
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, redirectTarget.URL, http.StatusPermanentRedirect)
			},
		},
		{
			name:       "malformed json",
			secrethash: sha256Hash,
			handler:    respondWith(http.StatusOK, `{"secret":`),
		},
		{
			name:       "missing secret field",
			secrethash: sha256Hash,
			handler:    respondWith(http.StatusOK, `{"preimage":"0x6465616462656566"}`),
		},
		{
			name:       "secret without hex prefix",
			secrethash: sha256Hash,
			handler:    respondWith(http.StatusOK, `{"secret":"6465616462656566"}`),
		},
		{
			name:       "secret of wrong type",
			secrethash: sha256Hash,
			handler:    respondWith(http.StatusOK, `{"secret":12}`),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			dispatcher := &mockDispatcher{}
			if tc.revealed {
				dispatcher.On("DispatchSecretReveal", mock.Anything, mock.MatchedBy(func(r types.VerifiedSecretReveal) bool {
					return string(r.Secret()) == "deadbeef" &&
						r.SecretHash() == tc.secrethash &&
						r.RevealingParty() == sender &&
						r.Algorithm() == tc.algo
				})).Return(nil).Once()
			}

			client := resolver_client.NewClient(
				testConfig(srv.URL),
				staticLookup{tc.secrethash: token},
				dispatcher,
				nil,
				zap.NewNop(),
			)

			require.Equal(t, tc.revealed, client.RevealSecretWithResolver(context.Background(), secretRequest(tc.secrethash)))
			dispatcher.AssertExpectations(t)
			if !tc.revealed {
				dispatcher.AssertNotCalled(t, "DispatchSecretReveal", mock.Anything, mock.Anything)
			}
		})
	}

	require.Zero(t, redirectTargetHits.Load())
}

func TestRequestBody(t *testing.T) {
	secrethash := common.Hash(sha256.Sum256([]byte("deadbeef")))

	var (
		method      string
		contentType string
		fields      map[string]interface{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		contentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&fields)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := resolver_client.NewClient(testConfig(srv.URL+"/resolve"), staticLookup{secrethash: token}, &mockDispatcher{}, nil, zap.NewNop())
	require.False(t, client.RevealSecretWithResolver(context.Background(), secretRequest(secrethash)))

	require.Equal(t, http.MethodPost, method)
	require.Equal(t, "application/json", contentType)
	require.Equal(t, map[string]interface{}{
		"token":              "0x00000000000000000000000000000000000000c3",
		"secrethash":         secrethash.Hex(),
		"amount":             float64(10),
		"payment_identifier": float64(7),
		"payment_sender":     "0x00000000000000000000000000000000000000a1",
		"payment_recipient":  "0x00000000000000000000000000000000000000b2",
		"expiration":         float64(1000),
		"reveal_timeout":     float64(50),
		"settle_timeout":     float64(500),
	}, fields)
}

func TestResolverDisabled(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	secrethash := common.Hash(sha256.Sum256([]byte("deadbeef")))
	dispatcher := &mockDispatcher{}
	client := resolver_client.NewClient(testConfig(""), staticLookup{secrethash: token}, dispatcher, nil, zap.NewNop())

	require.False(t, client.RevealSecretWithResolver(context.Background(), secretRequest(secrethash)))
	require.Zero(t, hits.Load())
	dispatcher.AssertNotCalled(t, "DispatchSecretReveal", mock.Anything, mock.Anything)

	_, err := client.FetchSecret(context.Background(), types.SecretResolutionRequest{SecretHash: secrethash})
	require.ErrorIs(t, err, types.ErrResolverDisabled)
}

func TestUnknownTransfer(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	dispatcher := &mockDispatcher{}
	client := resolver_client.NewClient(testConfig(srv.URL), staticLookup{}, dispatcher, nil, zap.NewNop())

	require.False(t, client.RevealSecretWithResolver(context.Background(), secretRequest(common.Hash{0x01})))
	require.Zero(t, hits.Load())
	dispatcher.AssertNotCalled(t, "DispatchSecretReveal", mock.Anything, mock.Anything)
}

func TestTransportFailures(t *testing.T) {
	secrethash := common.Hash(sha256.Sum256([]byte("deadbeef")))

	t.Run("connection refused", func(t *testing.T) {
		srv := httptest.NewServer(respondWith(http.StatusOK, `{"secret":"0x6465616462656566"}`))
		url := srv.URL
		srv.Close()

		client := resolver_client.NewClient(testConfig(url), staticLookup{secrethash: token}, &mockDispatcher{}, nil, zap.NewNop())
		_, err := client.FetchSecret(context.Background(), types.SecretResolutionRequest{SecretHash: secrethash})
		require.ErrorIs(t, err, types.ErrResolverUnreachable)
		require.False(t, client.RevealSecretWithResolver(context.Background(), secretRequest(secrethash)))
	})

	t.Run("request timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		}))
		defer srv.Close()

		cfg := testConfig(srv.URL)
		cfg.Resolver.RequestTimeout = 50 * time.Millisecond
		dispatcher := &mockDispatcher{}
		client := resolver_client.NewClient(cfg, staticLookup{secrethash: token}, dispatcher, nil, zap.NewNop())

		require.False(t, client.RevealSecretWithResolver(context.Background(), secretRequest(secrethash)))
		dispatcher.AssertNotCalled(t, "DispatchSecretReveal", mock.Anything, mock.Anything)
	})

	t.Run("cancelled context", func(t *testing.T) {
		srv := httptest.NewServer(respondWith(http.StatusOK, `{"secret":"0x6465616462656566"}`))
		defer srv.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		client := resolver_client.NewClient(testConfig(srv.URL), staticLookup{secrethash: token}, &mockDispatcher{}, nil, zap.NewNop())
		require.False(t, client.RevealSecretWithResolver(ctx, secretRequest(secrethash)))
	})
}

func TestDispatchFailure(t *testing.T) {
	srv := httptest.NewServer(respondWith(http.StatusOK, `{"secret":"0x6465616462656566"}`))
	defer srv.Close()

	secrethash := common.Hash(sha256.Sum256([]byte("deadbeef")))
	dispatcher := &mockDispatcher{}
	dispatcher.On("DispatchSecretReveal", mock.Anything, mock.Anything).Return(errors.New("state manager closed")).Once()

	m := metrics.New()
	client := resolver_client.NewClient(testConfig(srv.URL), staticLookup{secrethash: token}, dispatcher, m, zap.NewNop())

	require.False(t, client.RevealSecretWithResolver(context.Background(), secretRequest(secrethash)))
	dispatcher.AssertExpectations(t)

	count, err := testutil.GatherAndCount(m.Gatherer(), "secret_resolver_client_attempts_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestFetchSecretErrors(t *testing.T) {
	secrethash := common.Hash(sha256.Sum256([]byte("deadbeef")))

	tests := []struct {
		name    string
		handler http.HandlerFunc
		err     error
	}{
		{"not found", respondWith(http.StatusNotFound, ""), types.ErrUnexpectedStatus},
		{"malformed", respondWith(http.StatusOK, "not json"), types.ErrMalformedResponse},
		{"missing secret", respondWith(http.StatusOK, "{}"), types.ErrMalformedResponse},
		{"mismatch", respondWith(http.StatusOK, `{"secret":"0x00"}`), types.ErrSecretMismatch},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			client := resolver_client.NewClient(testConfig(srv.URL), staticLookup{}, &mockDispatcher{}, nil, zap.NewNop())
			_, err := client.FetchSecret(context.Background(), types.SecretResolutionRequest{SecretHash: secrethash, PaymentSender: sender})
			require.ErrorIs(t, err, tc.err)
		})
	}
}

func newReferenceResolver(t *testing.T) *httptest.Server {
	cfg := &config.ServerConfig{MaxBodyBytes: 64 * 1024}
	table := resolver_server.NewPreimageTable(types.HashAlgoSHA256, []byte("deadbeef"))
	srv := httptest.NewServer(resolver_server.NewServer(cfg, table, nil, zap.NewNop()).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestRoundTripWithReferenceServer(t *testing.T) {
	srv := newReferenceResolver(t)
	secrethash := common.Hash(sha256.Sum256([]byte("deadbeef")))

	dispatcher := &mockDispatcher{}
	dispatcher.On("DispatchSecretReveal", mock.Anything, mock.MatchedBy(func(r types.VerifiedSecretReveal) bool {
		return string(r.Secret()) == "deadbeef" && r.Algorithm() == types.HashAlgoSHA256 && r.RevealingParty() == sender
	})).Return(nil).Once()

	m := metrics.New()
	client := resolver_client.NewClient(testConfig(srv.URL), staticLookup{secrethash: token}, dispatcher, m, zap.NewNop())

	require.True(t, client.RevealSecretWithResolver(context.Background(), secretRequest(secrethash)))
	dispatcher.AssertExpectations(t)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Contains(t, rec.Body.String(), `secret_resolver_client_attempts_total{outcome="revealed"} 1`)
}

func TestNegativeRoundTripWithReferenceServer(t *testing.T) {
	srv := newReferenceResolver(t)
	secrethash := common.BytesToHash(crypto.Keccak256([]byte("random bytes not in the table")))

	dispatcher := &mockDispatcher{}
	client := resolver_client.NewClient(testConfig(srv.URL), staticLookup{secrethash: token}, dispatcher, nil, zap.NewNop())

	require.False(t, client.RevealSecretWithResolver(context.Background(), secretRequest(secrethash)))
	dispatcher.AssertNotCalled(t, "DispatchSecretReveal", mock.Anything, mock.Anything)
}

func TestConcurrentResolution(t *testing.T) {
	const n = 16

	preimages := make([][]byte, n)
	lookup := staticLookup{}
	for i := range preimages {
		preimages[i] = []byte(fmt.Sprintf("secret-%d", i))
		lookup[common.Hash(sha256.Sum256(preimages[i]))] = token
	}

	cfg := &config.ServerConfig{MaxBodyBytes: 64 * 1024}
	table := resolver_server.NewPreimageTable(types.HashAlgoSHA256, preimages...)
	srv := httptest.NewServer(resolver_server.NewServer(cfg, table, nil, zap.NewNop()).Handler())
	defer srv.Close()

	dispatcher := &mockDispatcher{}
	dispatcher.On("DispatchSecretReveal", mock.Anything, mock.Anything).Return(nil).Times(n)
	client := resolver_client.NewClient(testConfig(srv.URL), lookup, dispatcher, nil, zap.NewNop())

	var (
		wg       sync.WaitGroup
		revealed atomic.Int32
	)
	for secrethash := range lookup {
		wg.Add(1)
		go func(secrethash common.Hash) {
			defer wg.Done()
			if client.RevealSecretWithResolver(context.Background(), secretRequest(secrethash)) {
				revealed.Add(1)
			}
		}(secrethash)
	}
	wg.Wait()

	require.Equal(t, int32(n), revealed.Load())
	dispatcher.AssertExpectations(t)
}
