package installation

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Service is the sole source of trust for webhook token signing.
//
// Metadata is created lazily on first use and cached afterwards: it is
// read on every signed event URL and every inbound webhook, but written
// only at creation and during the one-time default-secret rotation, so a
// plain read-through cache is enough. Cross-process cache consistency is
// not handled here; multi-instance deployments share the row via the DB.
type Service struct {
	repo  Repository
	log   *slog.Logger
	clock func() time.Time

	mu     sync.Mutex
	cached *Metadata
}

func NewService(repo Repository, log *slog.Logger) *Service {
	return &Service{repo: repo, log: log, clock: time.Now}
}

// GetOrCreate returns the cached installation metadata, loading it from
// storage on cold start and provisioning a fresh identity when none
// exists. A stored factory-placeholder secret is regenerated in place
// before being returned. Failures here are initialization failures for
// the caller, not conditions to retry.
func (s *Service) GetOrCreate(ctx context.Context) (Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil {
		return *s.cached, nil
	}

	m, err := s.repo.Find(ctx)
	switch {
	case err == nil:
		if m.SharedSecret == DefaultSecretPlaceholder {
			secret, err := generateSecret()
			if err != nil {
				return Metadata{}, fmt.Errorf("installation: secret rotation: %w", err)
			}
			if err := s.repo.UpdateSecret(ctx, m.InstallationID, secret); err != nil {
				return Metadata{}, fmt.Errorf("installation: secret rotation: %w", err)
			}
			m.SharedSecret = secret
			s.log.Warn("installation secret rotated", "installation_id", m.InstallationID, "reason", "default_secret_detected")
		}
		s.cached = &m
		return m, nil

	case errors.Is(err, ErrNotFound):
		secret, err := generateSecret()
		if err != nil {
			return Metadata{}, fmt.Errorf("installation: provisioning: %w", err)
		}
		m = Metadata{
			InstallationID: "inst_" + uuid.NewString(),
			Name:           "CRM Installation",
			SharedSecret:   secret,
			Active:         true,
			CreatedAt:      s.clock().UTC(),
		}
		m, err = s.repo.Insert(ctx, m)
		if err != nil {
			return Metadata{}, fmt.Errorf("installation: provisioning: %w", err)
		}
		s.log.Info("installation created", "installation_id", m.InstallationID)
		s.cached = &m
		return m, nil

	default:
		return Metadata{}, fmt.Errorf("installation: load: %w", err)
	}
}

// GenerateEventURLToken signs a webhook callback token for the given
// conversation with the current installation identity.
func (s *Service) GenerateEventURLToken(ctx context.Context, conversationID string) (string, error) {
	m, err := s.GetOrCreate(ctx)
	if err != nil {
		return "", err
	}
	return SignToken(m.InstallationID, conversationID, m.SharedSecret, s.clock()), nil
}

// ValidateEventURLToken verifies a callback token against the current
// identity. An installation-id mismatch is rejected before any HMAC work.
func (s *Service) ValidateEventURLToken(ctx context.Context, token, claimedInstallationID string) (bool, error) {
	m, err := s.GetOrCreate(ctx)
	if err != nil {
		return false, err
	}
	if claimedInstallationID != m.InstallationID {
		s.log.Warn("webhook token rejected", "reason", "installation_mismatch", "claimed", claimedInstallationID)
		return false, nil
	}
	ok := VerifyToken(token, m.InstallationID, m.SharedSecret, s.clock())
	if !ok {
		s.log.Warn("webhook token rejected", "reason", "verification_failed", "installation_id", m.InstallationID)
	}
	return ok, nil
}

// ClearCache drops the cached metadata. Used by tests and by secret
// rotation tooling.
func (s *Service) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = nil
}

// generateSecret returns a 256-bit random secret, base64 encoded.
func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}
