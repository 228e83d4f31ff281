package admission

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// MaxTimestampAge bounds how far an HMAC timestamp may lie from the
// server's current time. Replays within the window are not prevented
// (there is no nonce tracking); the window only caps the exposure.
const MaxTimestampAge = 15 * time.Minute

// Authenticator verifies that a request was signed with the shared
// secret within the freshness window.
type Authenticator struct {
	log logrus.FieldLogger
	key []byte

	// now is replaceable for deterministic tests.
	now func() time.Time
}

// NewAuthenticator creates an Authenticator using the given shared secret.
func NewAuthenticator(log logrus.FieldLogger, key string) *Authenticator {
	return &Authenticator{
		log: log.WithField("component", "authenticator"),
		key: []byte(key),
		now: time.Now,
	}
}

// Digest computes the hex HMAC-SHA256 digest over the canonical message
// for the given request path, timestamp, and build content hash. The
// same derivation is used by signing clients.
func Digest(key []byte, path string, timestamp int64, buildHash string) string {
	mac := hmac.New(sha256.New, key)
	fmt.Fprintf(mac, "%s-%d-%s\n", path, timestamp, buildHash)

	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a request's claimed digest and timestamp against the
// canonical message "{path}-{timestamp}-{buildHash}\n".
//
// It returns ErrAuthMissing when the digest, timestamp, or build hash is
// absent, ErrAuthExpired when the timestamp lies more than MaxTimestampAge
// in the past or future (UTC), and ErrAuthInvalid on digest mismatch.
func (a *Authenticator) Verify(path, suppliedDigest string, timestamp int64, buildHash string) error {
	if suppliedDigest == "" {
		return fmt.Errorf("%w: HMAC header", ErrAuthMissing)
	}

	if timestamp == 0 {
		return fmt.Errorf("%w: HMAC timestamp", ErrAuthMissing)
	}

	if buildHash == "" {
		return fmt.Errorf("%w: build hash", ErrAuthMissing)
	}

	delta := a.now().UTC().Sub(time.Unix(timestamp, 0).UTC())
	if delta > MaxTimestampAge || delta < -MaxTimestampAge {
		return ErrAuthExpired
	}

	localDigest := Digest(a.key, path, timestamp, buildHash)

	// Constant-time compare.
	if !hmac.Equal([]byte(localDigest), []byte(suppliedDigest)) {
		a.log.WithField("supplied", suppliedDigest).
			WithField("local", localDigest).
			Error("HMAC digest from request didn't match local digest")

		return ErrAuthInvalid
	}

	return nil
}
