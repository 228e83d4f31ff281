package admission

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
	"unicode"
)

// RefValidator checks a raw branch name against version-control
// reference-naming rules. It is an interface so the normalizer can be
// tested without spawning processes.
type RefValidator interface {
	ValidRef(ctx context.Context, name string) bool
}

// GitRefValidator delegates to git's own rule set.
type GitRefValidator struct{}

// ValidRef runs `git check-ref-format --branch` against the name.
func (GitRefValidator) ValidRef(ctx context.Context, name string) bool {
	cmd := exec.CommandContext(ctx, "git", "check-ref-format", "--branch", name)
	cmd.Stdout = nil
	cmd.Stderr = nil

	return cmd.Run() == nil
}

// Normalizer derives a filesystem and container-name safe, unique branch
// identifier from user-supplied input.
type Normalizer struct {
	refValidator RefValidator

	// now is replaceable for deterministic tests.
	now func() time.Time
}

// NewNormalizer creates a Normalizer using the given reference validator.
func NewNormalizer(rv RefValidator) *Normalizer {
	return &Normalizer{
		refValidator: rv,
		now:          time.Now,
	}
}

// Sanitize validates branch and reduces it to lowercase alphanumerics.
//
// The reduction is stricter than the structural check on purpose: the
// result ends up embedded in path and container-name strings, where even
// a validly-named branch containing slashes would be unsafe.
func (n *Normalizer) Sanitize(ctx context.Context, branch string) (string, error) {
	// Semicolons could smuggle arguments into downstream shell commands.
	if strings.Contains(branch, ";") {
		return "", ErrInvalidBranch
	}

	if !n.refValidator.ValidRef(ctx, branch) {
		return "", ErrInvalidBranch
	}

	var b strings.Builder

	for _, r := range branch {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}

	return b.String(), nil
}

// Normalize sanitizes branch and appends a uniqueness suffix so repeated
// triggers of the same branch never collide on a working directory or
// container name. Remote builds use the authenticated request timestamp,
// local builds a "local" tag, both combined with the current time.
func (n *Normalizer) Normalize(ctx context.Context, branch string, remote bool, hmacTimestamp int64) (sanitized, normalized string, err error) {
	sanitized, err = n.Sanitize(ctx, branch)
	if err != nil {
		return "", "", err
	}

	if remote {
		normalized = fmt.Sprintf("%s-%d-%d", sanitized, hmacTimestamp, n.now().Unix())
	} else {
		normalized = fmt.Sprintf("%s-local-%d", sanitized, n.now().Unix())
	}

	return sanitized, normalized, nil
}
