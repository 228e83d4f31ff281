package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zeek/zeek-benchmarker/pkg/admission"
)

var (
	submitAPIURL    string
	submitHMACKey   string
	submitBuildURL  string
	submitBuildHash string
	submitCommit    string
	submitPath      string
)

// submitCmd is a testing client for the API: it signs a build request
// the same way CI does and posts it.
var submitCmd = &cobra.Command{
	Use:   "submit <branch>",
	Short: "Sign and submit a benchmark build request",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmit,
}

func init() {
	submitCmd.Flags().StringVar(&submitAPIURL, "api-url", "http://localhost:8080", "benchmarker API base URL")
	submitCmd.Flags().StringVar(&submitHMACKey, "hmac-key", "unset", "HMAC signing key")
	submitCmd.Flags().StringVar(&submitBuildURL, "build-url", "", "build artifact URL")
	submitCmd.Flags().StringVar(&submitBuildHash, "build-hash", "", "sha256 of the build artifact")
	submitCmd.Flags().StringVar(&submitCommit, "commit", "", "commit the build was made from")
	submitCmd.Flags().StringVar(&submitPath, "path", "/zeek", "API endpoint path")

	_ = submitCmd.MarkFlagRequired("build-hash")

	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	branch := args[0]

	ts := time.Now().Unix()
	digest := admission.Digest([]byte(submitHMACKey), submitPath, ts, submitBuildHash)

	q := url.Values{
		"branch":     []string{branch},
		"build":      []string{submitBuildURL},
		"build_hash": []string{submitBuildHash},
	}

	if submitCommit != "" {
		q.Set("commit", submitCommit)
	}

	reqURL := strings.TrimSuffix(submitAPIURL, "/") + submitPath + "?" + q.Encode()

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, reqURL, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	req.Header.Set("Zeek-HMAC", digest)
	req.Header.Set("Zeek-HMAC-Timestamp", strconv.FormatInt(ts, 10))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("submitting request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request rejected (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println(strings.TrimSpace(string(body)))

	return nil
}
