package admission

import "errors"

// Admission failure taxonomy. BadRequest style errors describe malformed
// input; the Auth errors distinguish a missing signature from a stale or
// invalid one so operators can tell misconfigured callers from attacks.
var (
	ErrBadRequest    = errors.New("bad request")
	ErrInvalidBranch = errors.New("invalid branch name")
	ErrAuthMissing   = errors.New("authentication data missing")
	ErrAuthExpired   = errors.New("authentication timestamp outside valid range")
	ErrAuthInvalid   = errors.New("authentication validation failed")
)
