// Package admission validates and normalizes inbound benchmark build
// triggers before they become jobs.
package admission

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// localBuildPrefix marks a build reference served from the local
// filesystem instead of an allow-listed remote origin.
const localBuildPrefix = "file://"

// JobRequest is the canonical, validated representation of a build
// trigger, safe to hand to execution infrastructure. It is created once
// per admitted request and never mutated afterwards.
type JobRequest struct {
	// JobID is assigned by the dispatcher at enqueue time.
	JobID string `json:"job_id"`

	BuildURL  string `json:"build_url"`
	BuildHash string `json:"build_hash"`
	Remote    bool   `json:"remote"`

	OriginalBranch   string `json:"original_branch"`
	NormalizedBranch string `json:"normalized_branch"`
	Commit           string `json:"commit"`

	// CI metadata passed through verbatim from the trigger.
	CirrusRepoOwner    string `json:"cirrus_repo_owner"`
	CirrusRepoName     string `json:"cirrus_repo_name"`
	CirrusTaskID       string `json:"cirrus_task_id"`
	CirrusTaskName     string `json:"cirrus_task_name"`
	CirrusBuildID      string `json:"cirrus_build_id"`
	CirrusPR           string `json:"cirrus_pr"`
	GithubCheckSuiteID string `json:"github_check_suite_id"`
	RepoVersion        string `json:"repo_version"`
}

// Gateway composes the authenticator and normalizer to decide
// accept/reject for inbound build triggers.
type Gateway struct {
	log           logrus.FieldLogger
	auth          *Authenticator
	normalizer    *Normalizer
	allowedBuilds []string
}

// NewGateway creates a Gateway. allowedBuildURLs is the allow-list of
// trusted build-artifact origin prefixes.
func NewGateway(
	log logrus.FieldLogger,
	auth *Authenticator,
	normalizer *Normalizer,
	allowedBuildURLs []string,
) *Gateway {
	return &Gateway{
		log:           log.WithField("component", "gateway"),
		auth:          auth,
		normalizer:    normalizer,
		allowedBuilds: allowedBuildURLs,
	}
}

// Admit validates the inbound trigger and assembles the canonical
// JobRequest. It performs no side effects beyond logging; queueing and
// persistence are the caller's concern.
func (g *Gateway) Admit(r *http.Request) (*JobRequest, error) {
	branch := r.URL.Query().Get("branch")
	if branch == "" {
		return nil, fmt.Errorf("%w: branch argument required", ErrBadRequest)
	}

	buildURL := r.URL.Query().Get("build")
	if buildURL == "" {
		return nil, fmt.Errorf("%w: build argument required", ErrBadRequest)
	}

	buildHash := r.URL.Query().Get("build_hash")
	hmacTimestamp := parseTimestamp(r.Header.Get("Zeek-HMAC-Timestamp"))

	var remote bool

	switch {
	case g.isAllowedBuildURL(buildURL):
		remote = true

		if buildHash == "" {
			return nil, fmt.Errorf("%w: build hash argument required", ErrBadRequest)
		}

		if err := g.auth.Verify(r.URL.Path, r.Header.Get("Zeek-HMAC"), hmacTimestamp, buildHash); err != nil {
			return nil, err
		}
	case strings.HasPrefix(buildURL, localBuildPrefix) && isLoopback(r.RemoteAddr):
		// Trusted same-host manual trigger, no authentication.
		remote = false
	default:
		return nil, fmt.Errorf("%w: invalid build URL", ErrBadRequest)
	}

	original, normalized, err := g.normalizer.Normalize(r.Context(), branch, remote, hmacTimestamp)
	if err != nil {
		return nil, err
	}

	return &JobRequest{
		BuildURL:         buildURL,
		BuildHash:        buildHash,
		Remote:           remote,
		OriginalBranch:   original,
		NormalizedBranch: normalized,
		Commit:           r.URL.Query().Get("commit"),

		CirrusRepoOwner:    r.URL.Query().Get("cirrus_repo_owner"),
		CirrusRepoName:     r.URL.Query().Get("cirrus_repo_name"),
		CirrusTaskID:       r.URL.Query().Get("cirrus_task_id"),
		CirrusTaskName:     r.URL.Query().Get("cirrus_task_name"),
		CirrusBuildID:      r.URL.Query().Get("cirrus_build_id"),
		CirrusPR:           r.URL.Query().Get("cirrus_pr"),
		GithubCheckSuiteID: r.URL.Query().Get("github_check_suite_id"),
		RepoVersion:        r.URL.Query().Get("repo_version"),
	}, nil
}

// isAllowedBuildURL reports whether url starts with one of the
// configured trusted origin prefixes.
func (g *Gateway) isAllowedBuildURL(url string) bool {
	for _, prefix := range g.allowedBuilds {
		if strings.HasPrefix(url, prefix) {
			return true
		}
	}

	return false
}

// isLoopback reports whether the remote address is the local host.
func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	ip := net.ParseIP(host)

	return ip != nil && ip.IsLoopback()
}

// parseTimestamp decodes the HMAC timestamp header, returning zero for
// missing or malformed values so the authenticator reports them as
// missing rather than panicking the request.
func parseTimestamp(v string) int64 {
	if v == "" {
		return 0
	}

	ts, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}

	return ts
}
