package installation

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Webhook callback tokens authenticate the provider's event posts without
// a pre-shared long-lived secret on the provider side. The token rides on
// the event_url query string and is verified by recomputing the HMAC.
//
// Wire format: base64("installationID:conversationID:unixMillis:signature")
// where signature = base64(HMAC-SHA256("installationID:conversationID:unixMillis", secret)).

// TokenValidity bounds the accepted age of a callback token. Provider
// events for one call all arrive well within an hour of call creation.
const TokenValidity = time.Hour

// SignToken builds a callback token for the given conversation.
func SignToken(installationID, conversationID, secret string, now time.Time) string {
	payload := fmt.Sprintf("%s:%s:%d", installationID, conversationID, now.UnixMilli())
	sig := hmacSignature(payload, secret)
	return base64.StdEncoding.EncodeToString([]byte(payload + ":" + sig))
}

// VerifyToken checks a callback token. It fails closed: any malformed,
// mismatched, expired or tampered token returns false, never an error.
func VerifyToken(token, expectedInstallationID, secret string, now time.Time) bool {
	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return false
	}

	parts := strings.Split(string(decoded), ":")
	if len(parts) != 4 {
		return false
	}

	installationID := parts[0]
	conversationID := parts[1]
	timestampStr := parts[2]
	signature := parts[3]

	if installationID != expectedInstallationID {
		return false
	}

	millis, err := strconv.ParseInt(timestampStr, 10, 64)
	if err != nil {
		return false
	}
	if now.Sub(time.UnixMilli(millis)) > TokenValidity {
		return false
	}

	payload := installationID + ":" + conversationID + ":" + timestampStr
	expected := hmacSignature(payload, secret)

	return hmac.Equal([]byte(signature), []byte(expected))
}

func hmacSignature(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
