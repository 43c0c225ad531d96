package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/stemsplit/api/pkg/response"
)

// SignatureHeader carries the sender's HMAC of the request body.
const SignatureHeader = "x-signature"

// WebhookAuth verifies an HMAC-SHA256 signature over the raw, unparsed body
// before any JSON handling. The signature may be bare hex or prefixed with
// "sha256=". A mismatch is the only webhook outcome that is not a 200: the
// sender retries on 401, and must not retry on application-level errors.
func WebhookAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		signature := c.Get(SignatureHeader)
		if !VerifySignature(c.Body(), secret, signature) {
			return response.Unauthorized(c, "Invalid signature")
		}
		return c.Next()
	}
}

// VerifySignature checks signature against the HMAC-SHA256 of body using a
// constant-time comparison.
func VerifySignature(body []byte, secret, signature string) bool {
	given := strings.TrimPrefix(signature, "sha256=")
	if given == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(given))
}
