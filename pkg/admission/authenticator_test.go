package admission

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey       = "test-key"
	testBuildHash = "f2ca1bb6c7e907d06dafe4687e579fce76b37e4e93b7605022da52e6ccc26fd2"
	testTimestamp = int64(1694690494)

	// Reference vector: HMAC-SHA256("test-key", "/zeek-1694690494-f2ca...fd2\n").
	testDigest = "3502a12b2f6caa02d82a8c1c9eba934577ae1573ebdf6a29dc2bd1ec07bb93de"
)

func newTestAuthenticator(t *testing.T, now time.Time) *Authenticator {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	a := NewAuthenticator(log, testKey)
	a.now = func() time.Time { return now }

	return a
}

func TestDigest(t *testing.T) {
	assert.Equal(t, testDigest, Digest([]byte(testKey), "/zeek", testTimestamp, testBuildHash))

	// Altering any single input changes the digest.
	assert.Equal(t,
		"95a7e75b1dac597870290405fc0b14965715486222d197164898a53534be4702",
		Digest([]byte(testKey), "/broker", testTimestamp, testBuildHash))
	assert.Equal(t,
		"f4d4b4030a9cc1c5aa8f126363e012e5c4a2e0f8bbd5a13fc965d018599be810",
		Digest([]byte(testKey), "/zeek", testTimestamp+1, testBuildHash))
	assert.NotEqual(t, testDigest, Digest([]byte(testKey), "/zeek", testTimestamp, "other-hash"))
	assert.NotEqual(t, testDigest, Digest([]byte("other-key"), "/zeek", testTimestamp, testBuildHash))
}

func TestVerify_Good(t *testing.T) {
	a := newTestAuthenticator(t, time.Unix(testTimestamp, 0))

	require.NoError(t, a.Verify("/zeek", testDigest, testTimestamp, testBuildHash))
}

func TestVerify_Missing(t *testing.T) {
	a := newTestAuthenticator(t, time.Unix(testTimestamp, 0))

	tests := []struct {
		name      string
		digest    string
		timestamp int64
		buildHash string
	}{
		{"no digest", "", testTimestamp, testBuildHash},
		{"no timestamp", testDigest, 0, testBuildHash},
		{"no build hash", testDigest, testTimestamp, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.Verify("/zeek", tt.digest, tt.timestamp, tt.buildHash)
			require.ErrorIs(t, err, ErrAuthMissing)
		})
	}
}

func TestVerify_FreshnessWindow(t *testing.T) {
	now := time.Unix(testTimestamp, 0)

	tests := []struct {
		name      string
		timestamp int64
		wantErr   error
	}{
		{"exactly at past boundary", now.Add(-MaxTimestampAge).Unix(), ErrAuthInvalid},
		{"exactly at future boundary", now.Add(MaxTimestampAge).Unix(), ErrAuthInvalid},
		{"one second too old", now.Add(-MaxTimestampAge - time.Second).Unix(), ErrAuthExpired},
		{"one second too far ahead", now.Add(MaxTimestampAge + time.Second).Unix(), ErrAuthExpired},
		{"way in the past", now.Add(-24 * time.Hour).Unix(), ErrAuthExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAuthenticator(t, now)

			// The digest was issued for testTimestamp, so boundary
			// timestamps pass the freshness check but then fail digest
			// comparison; only out-of-window ones report expiry.
			err := a.Verify("/zeek", testDigest, tt.timestamp, testBuildHash)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestVerify_BoundaryAccepted(t *testing.T) {
	// A correctly signed request whose timestamp sits exactly on the
	// 15-minute boundary is still accepted.
	ts := testTimestamp
	a := newTestAuthenticator(t, time.Unix(ts, 0).Add(MaxTimestampAge))

	require.NoError(t, a.Verify("/zeek", testDigest, ts, testBuildHash))
}

func TestVerify_InvalidDigest(t *testing.T) {
	a := newTestAuthenticator(t, time.Unix(testTimestamp, 0))

	err := a.Verify("/zeek", "deadbeef", testTimestamp, testBuildHash)
	require.ErrorIs(t, err, ErrAuthInvalid)

	// Signed for a different path.
	err = a.Verify("/broker", testDigest, testTimestamp, testBuildHash)
	require.ErrorIs(t, err, ErrAuthInvalid)
}
