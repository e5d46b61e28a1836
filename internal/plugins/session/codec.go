// Package session implements the signed session credential used by the
// Gearstock dashboard. A token is issued at login, carried in a cookie, and
// verified on every request without a server-side session table.
//
// Wire format (fixed for compatibility with existing cookies -- reproduce
// bit-for-bit):
//
//	<userID>:<issuedAtEpochMillis>:<hexHmacSha256Signature>
//
// where the signature is HMAC-SHA256(secret, "<userID>:<issuedAtEpochMillis>")
// hex-encoded. The signature covers both the user ID and the timestamp,
// preventing cookie tampering and replay beyond the max age.
package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pchaisri/gearstock/internal/clock"
)

// Verification failure reasons. Callers branch on these to decide whether a
// bad cookie is worth auditing (Expired emits a session-timeout event) or
// just dropped (Malformed, InvalidSignature).
var (
	// ErrMalformed means the token does not have the three colon-delimited
	// parts of the wire format.
	ErrMalformed = errors.New("session token malformed")

	// ErrInvalidSignature means the recomputed HMAC differs from the one
	// presented. Compared in constant time.
	ErrInvalidSignature = errors.New("session token signature invalid")

	// ErrExpired means the signature checked out but the token is older
	// than the configured max age.
	ErrExpired = errors.New("session token expired")
)

// Identity is the verified content of a session token.
type Identity struct {
	UserID   string
	IssuedAt time.Time
}

// Codec signs and verifies session tokens. It is a pure function of its
// secret and clock; it holds no per-session state and performs no I/O.
type Codec struct {
	secret []byte
	maxAge time.Duration
	clock  clock.Clock
}

// NewCodec creates a codec with the given HMAC secret and token max age.
func NewCodec(secret string, maxAge time.Duration, clk clock.Clock) *Codec {
	return &Codec{
		secret: []byte(secret),
		maxAge: maxAge,
		clock:  clk,
	}
}

// Issue creates a signed token for the given user ID, stamped with the
// current time in epoch milliseconds.
func (c *Codec) Issue(userID string) string {
	millis := c.clock.Now().UnixMilli()
	payload := fmt.Sprintf("%s:%d", userID, millis)
	return payload + ":" + c.sign(payload)
}

// Verify checks a token's shape, signature, and age. On success it returns
// the identity the token proves. Failures are one of ErrMalformed,
// ErrInvalidSignature, or ErrExpired.
func (c *Codec) Verify(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrMalformed
	}

	parts := strings.Split(token, ":")
	if len(parts) != 3 {
		return Identity{}, ErrMalformed
	}

	userID, millisStr, providedSig := parts[0], parts[1], parts[2]
	if userID == "" || millisStr == "" || providedSig == "" {
		return Identity{}, ErrMalformed
	}

	millis, err := strconv.ParseInt(millisStr, 10, 64)
	if err != nil {
		return Identity{}, ErrMalformed
	}

	// Check the signature before the expiry so a tampered timestamp can
	// never widen the window.
	expectedSig := c.sign(userID + ":" + millisStr)
	provided, err := hex.DecodeString(providedSig)
	if err != nil {
		return Identity{}, ErrInvalidSignature
	}
	expected, _ := hex.DecodeString(expectedSig)
	if !hmac.Equal(provided, expected) {
		return Identity{}, ErrInvalidSignature
	}

	issuedAt := time.UnixMilli(millis)
	if c.clock.Now().Sub(issuedAt) > c.maxAge {
		return Identity{}, ErrExpired
	}

	return Identity{UserID: userID, IssuedAt: issuedAt}, nil
}

// MaxAge reports the configured token lifetime. Cookie expiry mirrors it.
func (c *Codec) MaxAge() time.Duration { return c.maxAge }

// sign computes the hex-encoded HMAC-SHA256 of payload under the secret.
func (c *Codec) sign(payload string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
