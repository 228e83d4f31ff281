// Package results extracts typed timing measurements from raw benchmark
// tool output.
package results

import (
	"fmt"
	"strconv"
	"strings"
)

// Marker is the prefix of an output line carrying one run's measurements.
const Marker = "BENCHMARK_TIMING="

// ErrResultNotFound is returned when output that was expected to contain
// a marker line does not contain one.
var ErrResultNotFound = fmt.Errorf("no %s line found in output", strings.TrimSuffix(Marker, "="))

// TestResult holds the measurements of a single benchmark run.
//
// Fields are pointers because not every marker line reports every metric;
// an empty or non-numeric field is carried as nil rather than failing
// the whole run.
type TestResult struct {
	RunIndex   int      `json:"run_index"`
	WallTime   *float64 `json:"wall_time"`
	UserTime   *float64 `json:"user_time"`
	SystemTime *float64 `json:"system_time"`
	MaxMemory  *float64 `json:"max_memory"` // bytes
}

// TestDefinition names a benchmark test and how many repeated runs it
// is expected to report.
type TestDefinition struct {
	TestID string `yaml:"id"`
	Runs   int    `yaml:"runs"`

	PcapFile     string `yaml:"pcap_file,omitempty"`
	BenchCommand string `yaml:"bench_command,omitempty"`
	BenchArgs    string `yaml:"bench_args,omitempty"`
	Skip         bool   `yaml:"skip,omitempty"`
}

// Parse scans output for the first marker line and decodes it into a
// TestResult for the given 1-based run index.
//
// Marker field order is wall;max_rss_kb;user;system. Max RSS is reported
// by the harness in kilobytes and converted to bytes here. Lines without
// the marker prefix are ignored; a missing marker yields ErrResultNotFound.
func Parse(runIndex int, output []byte) (*TestResult, error) {
	for _, line := range strings.Split(string(output), "\n") {
		if !strings.HasPrefix(line, Marker) {
			continue
		}

		fields := strings.Split(strings.TrimPrefix(line, Marker), ";")

		r := &TestResult{RunIndex: runIndex}
		r.WallTime = parseField(fields, 0)
		r.UserTime = parseField(fields, 2)
		r.SystemTime = parseField(fields, 3)

		if rssKB := parseField(fields, 1); rssKB != nil {
			bytes := *rssKB * 1024
			r.MaxMemory = &bytes
		}

		return r, nil
	}

	return nil, ErrResultNotFound
}

// ParseAll decodes every marker line in output, assigning run indexes by
// 1-based discovery order. It returns ErrResultNotFound when output was
// expected to report runs but contains no marker at all. A count mismatch
// between expectedRuns and discovered markers is reported to the caller
// as an error alongside the results that were found.
func ParseAll(output []byte, expectedRuns int) ([]*TestResult, error) {
	var parsed []*TestResult

	for _, line := range strings.Split(string(output), "\n") {
		if !strings.HasPrefix(line, Marker) {
			continue
		}

		r, err := Parse(len(parsed)+1, []byte(line))
		if err != nil {
			return parsed, err
		}

		parsed = append(parsed, r)
	}

	if len(parsed) == 0 && expectedRuns > 0 {
		return nil, ErrResultNotFound
	}

	if len(parsed) != expectedRuns {
		return parsed, fmt.Errorf("expected %d marker lines, found %d", expectedRuns, len(parsed))
	}

	return parsed, nil
}

// parseField returns the idx-th field as a float, or nil when the field
// is missing, empty, or non-numeric.
func parseField(fields []string, idx int) *float64 {
	if idx >= len(fields) {
		return nil
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(fields[idx]), 64)
	if err != nil {
		return nil
	}

	return &v
}
