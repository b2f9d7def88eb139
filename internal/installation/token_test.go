package installation

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	secret := "s3cret"

	tok := SignToken("inst_a", "call-1", secret, now)

	if !VerifyToken(tok, "inst_a", secret, now) {
		t.Fatalf("expected fresh token to verify")
	}
	if !VerifyToken(tok, "inst_a", secret, now.Add(59*time.Minute)) {
		t.Fatalf("expected token inside validity window to verify")
	}
	if VerifyToken(tok, "inst_a", secret, now.Add(TokenValidity+time.Second)) {
		t.Fatalf("expected expired token to fail")
	}
}

func TestTokenCrossTenantRejection(t *testing.T) {
	now := time.Now()
	tok := SignToken("inst_a", "call-1", "secretA", now)
	if VerifyToken(tok, "inst_b", "secretA", now) {
		t.Fatalf("token for inst_a must not verify as inst_b")
	}
}

func TestTokenWrongSecretRejection(t *testing.T) {
	now := time.Now()
	tok := SignToken("inst_a", "call-1", "secretA", now)
	if VerifyToken(tok, "inst_a", "secretB", now) {
		t.Fatalf("token signed with secretA must not verify with secretB")
	}
}

func TestTokenTamperRejection(t *testing.T) {
	now := time.Now()
	tok := SignToken("inst_a", "call-1", "secret", now)

	raw, err := base64.StdEncoding.DecodeString(tok)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	decoded := string(raw)

	// Flip one character inside the signature segment.
	i := strings.LastIndex(decoded, ":") + 1
	flipped := []byte(decoded)
	if flipped[i] == 'A' {
		flipped[i] = 'B'
	} else {
		flipped[i] = 'A'
	}
	tampered := base64.StdEncoding.EncodeToString(flipped)

	if VerifyToken(tampered, "inst_a", "secret", now) {
		t.Fatalf("tampered signature must fail verification")
	}
}

func TestTokenMalformedRejection(t *testing.T) {
	now := time.Now()

	cases := []struct {
		name  string
		token string
	}{
		{"not base64", "%%%"},
		{"too few fields", base64.StdEncoding.EncodeToString([]byte("a:b:c"))},
		{"too many fields", base64.StdEncoding.EncodeToString([]byte("a:b:c:d:e"))},
		{"non-numeric timestamp", base64.StdEncoding.EncodeToString([]byte("inst_a:call-1:soon:sig"))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if VerifyToken(tc.token, "inst_a", "secret", now) {
				t.Fatalf("expected %s to fail closed", tc.name)
			}
		})
	}
}
