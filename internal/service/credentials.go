package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/boddenberg/wallet-bridge-go/internal/domain"
	"github.com/boddenberg/wallet-bridge-go/internal/infra/cache"
	"github.com/boddenberg/wallet-bridge-go/internal/infra/observability"
	"github.com/boddenberg/wallet-bridge-go/internal/port"

	"go.uber.org/zap"
)

// Credentials validates bearer tokens and swaps the coordinator over to a
// new one. Accepted tokens are remembered in validated (keyed by digest) so
// a validate followed by a re-auth costs one upstream request.
type Credentials struct {
	newAPI      port.WalletAPIFactory
	coordinator *Coordinator
	validated   *cache.InMemory[bool]
	logger      *zap.Logger
}

// NewCredentials creates the credential service. validated may be nil.
func NewCredentials(newAPI port.WalletAPIFactory, coordinator *Coordinator, validated *cache.InMemory[bool], logger *zap.Logger) *Credentials {
	return &Credentials{newAPI: newAPI, coordinator: coordinator, validated: validated, logger: logger}
}

// Validate checks token with a single one-item accounts request. A rejected
// or blank token yields a CredentialError with CodeInvalidAuth; any other
// failure yields CodeCannotConnect.
func (s *Credentials) Validate(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return &domain.CredentialError{Code: domain.CodeInvalidAuth}
	}

	key := tokenDigest(token)
	if s.validated != nil {
		if ok, _ := s.validated.Get(key); ok {
			return nil
		}
	}

	err := s.newAPI(token).ValidateCredential(ctx)
	if err == nil {
		if s.validated != nil {
			s.validated.Set(key, true)
		}
		s.logger.Info("credential validated", zap.String("token", observability.MaskToken(token)))
		return nil
	}

	var authErr *domain.AuthError
	if errors.As(err, &authErr) {
		s.logger.Warn("credential rejected", zap.String("token", observability.MaskToken(token)))
		return &domain.CredentialError{Code: domain.CodeInvalidAuth, Err: err}
	}
	s.logger.Warn("credential check failed", zap.Error(err))
	return &domain.CredentialError{Code: domain.CodeCannotConnect, Err: err}
}

// Reauthenticate validates token, rebinds the coordinator to it and starts a
// refresh in the background. A refresh already in flight finishes with the
// previous credential.
func (s *Credentials) Reauthenticate(ctx context.Context, token string) error {
	if err := s.Validate(ctx, token); err != nil {
		return err
	}

	s.coordinator.ReplaceFetcher(NewAggregator(s.newAPI(strings.TrimSpace(token)), s.logger))
	if !s.coordinator.Trigger(context.WithoutCancel(ctx)) {
		s.logger.Info("credential replaced; refresh in flight, next cycle uses the new token")
		return nil
	}
	s.logger.Info("credential replaced, refresh started")
	return nil
}

func tokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
