package admission

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubRefValidator lets tests control the structural check without
// spawning git.
type stubRefValidator struct {
	valid bool
	seen  string
}

func (s *stubRefValidator) ValidRef(_ context.Context, name string) bool {
	s.seen = name

	return s.valid
}

func newTestNormalizer(valid bool, now time.Time) (*Normalizer, *stubRefValidator) {
	rv := &stubRefValidator{valid: valid}

	n := NewNormalizer(rv)
	n.now = func() time.Time { return now }

	return n, rv
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name   string
		branch string
		want   string
	}{
		{"plain", "test-branch", "testbranch"},
		{"mixed case", "Topic/Feature-X", "topicfeaturex"},
		{"symbols stripped", "fix_bug.#123!", "fixbug123"},
		{"digits kept", "v6.1.0", "v610"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, _ := newTestNormalizer(true, time.Unix(1694690494, 0))

			got, err := n.Sanitize(context.Background(), tt.branch)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSanitize_RejectsSemicolon(t *testing.T) {
	n, rv := newTestNormalizer(true, time.Unix(1694690494, 0))

	_, err := n.Sanitize(context.Background(), "branch;rm -rf /")
	require.ErrorIs(t, err, ErrInvalidBranch)

	// The semicolon check fires before the structural check runs.
	assert.Empty(t, rv.seen)
}

func TestSanitize_RejectsInvalidRef(t *testing.T) {
	n, rv := newTestNormalizer(false, time.Unix(1694690494, 0))

	_, err := n.Sanitize(context.Background(), "..bad")
	require.ErrorIs(t, err, ErrInvalidBranch)
	assert.Equal(t, "..bad", rv.seen)
}

func TestNormalize_RemoteSuffix(t *testing.T) {
	n, _ := newTestNormalizer(true, time.Unix(1694690500, 0))

	original, normalized, err := n.Normalize(context.Background(), "Test-Branch", true, 1694690494)
	require.NoError(t, err)
	assert.Equal(t, "testbranch", original)
	assert.Equal(t, "testbranch-1694690494-1694690500", normalized)
}

func TestNormalize_LocalSuffix(t *testing.T) {
	n, _ := newTestNormalizer(true, time.Unix(1694690500, 0))

	_, normalized, err := n.Normalize(context.Background(), "test-branch", false, 0)
	require.NoError(t, err)
	assert.Equal(t, "testbranch-local-1694690500", normalized)
}

func TestNormalize_UniqueAcrossCalls(t *testing.T) {
	rv := &stubRefValidator{valid: true}
	n := NewNormalizer(rv)

	clock := int64(1694690500)
	n.now = func() time.Time {
		clock++

		return time.Unix(clock, 0)
	}

	_, first, err := n.Normalize(context.Background(), "same-branch", false, 0)
	require.NoError(t, err)

	_, second, err := n.Normalize(context.Background(), "same-branch", false, 0)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestGitRefValidator(t *testing.T) {
	// Exercises the real subprocess path; skip when git isn't around.
	rv := GitRefValidator{}
	ctx := context.Background()

	if !rv.ValidRef(ctx, "main") {
		t.Skip("git not available")
	}

	assert.True(t, rv.ValidRef(ctx, "topic/feature"))
	assert.False(t, rv.ValidRef(ctx, "..bad"))
	assert.False(t, rv.ValidRef(ctx, "trailing/"))
}
