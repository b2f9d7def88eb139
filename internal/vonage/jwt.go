package vonage

import (
	"crypto/rsa"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Signer issues the two categories of RS256 JWTs the provider trusts:
// short-lived API tokens for server-to-provider REST calls, and
// longer-lived ACL-scoped tokens identifying one operator to the
// browser/softphone client SDK. Both share one application private key,
// loaded once at startup.
type Signer struct {
	applicationID string
	privateKey    *rsa.PrivateKey

	// staticToken, if configured, bypasses API token generation.
	staticToken string

	clock func() time.Time
}

const (
	apiTokenTTL    = 5 * time.Minute
	clientTokenTTL = time.Hour
)

// clientACLPaths is the fixed allow-list granted to client SDK tokens:
// conversation/session/media/device/push/knocking/leg resources only.
var clientACLPaths = map[string]any{
	"/*/users/**":         map[string]any{},
	"/*/conversations/**": map[string]any{},
	"/*/sessions/**":      map[string]any{},
	"/*/devices/**":       map[string]any{},
	"/*/image/**":         map[string]any{},
	"/*/media/**":         map[string]any{},
	"/*/push/**":          map[string]any{},
	"/*/knocking/**":      map[string]any{},
	"/*/legs/**":          map[string]any{},
}

// NewSigner parses the private key and returns a ready signer.
// privateKey is either inline PEM or a path to the key file. A parse
// failure is an unrecoverable configuration error for the caller.
func NewSigner(applicationID, privateKey, staticToken string) (*Signer, error) {
	if applicationID == "" {
		return nil, fmt.Errorf("vonage: application id is required")
	}

	pem := privateKey
	if !strings.Contains(privateKey, "BEGIN") {
		raw, err := os.ReadFile(privateKey)
		if err != nil {
			return nil, fmt.Errorf("vonage: read private key %q: %w", privateKey, err)
		}
		pem = string(raw)
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(pem))
	if err != nil {
		return nil, fmt.Errorf("vonage: parse private key: %w", err)
	}

	return &Signer{
		applicationID: applicationID,
		privateKey:    key,
		staticToken:   staticToken,
		clock:         time.Now,
	}, nil
}

// APIToken returns the bearer token for a provider REST call: the static
// configured token when present, otherwise a fresh 5-minute RS256 JWT.
func (s *Signer) APIToken() (string, error) {
	if s.staticToken != "" {
		return s.staticToken, nil
	}
	now := s.clock()
	return s.sign(jwt.MapClaims{
		"application_id": s.applicationID,
		"iat":            now.Unix(),
		"exp":            now.Add(apiTokenTTL).Unix(),
		"jti":            uuid.NewString(),
	})
}

// ClientSDKToken returns a one-hour JWT identifying the operator to the
// client SDK, scoped to the fixed ACL allow-list.
func (s *Signer) ClientSDKToken(userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("vonage: user id is required")
	}
	now := s.clock()
	return s.sign(jwt.MapClaims{
		"application_id": s.applicationID,
		"iat":            now.Unix(),
		"exp":            now.Add(clientTokenTTL).Unix(),
		"jti":            uuid.NewString(),
		"sub":            userID,
		"acl":            map[string]any{"paths": clientACLPaths},
	})
}

func (s *Signer) sign(claims jwt.MapClaims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := t.SignedString(s.privateKey)
	if err != nil {
		return "", fmt.Errorf("vonage: sign token: %w", err)
	}
	return signed, nil
}
