package results

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fp(v float64) *float64 { return &v }

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		want    *TestResult
		wantErr error
	}{
		{
			name:   "marker between noise lines",
			output: "X\nBENCHMARK_TIMING=1.12;42;1.10;0.02\nX",
			want: &TestResult{
				RunIndex:   1,
				WallTime:   fp(1.12),
				UserTime:   fp(1.10),
				SystemTime: fp(0.02),
				MaxMemory:  fp(42 * 1024),
			},
		},
		{
			name:   "empty field treated as absent",
			output: "BENCHMARK_TIMING=1.12;;1.10;0.02",
			want: &TestResult{
				RunIndex:   1,
				WallTime:   fp(1.12),
				UserTime:   fp(1.10),
				SystemTime: fp(0.02),
			},
		},
		{
			name:   "non-numeric field treated as absent",
			output: "BENCHMARK_TIMING=1.12;42;oops;0.02",
			want: &TestResult{
				RunIndex:   1,
				WallTime:   fp(1.12),
				SystemTime: fp(0.02),
				MaxMemory:  fp(42 * 1024),
			},
		},
		{
			name:   "short line",
			output: "BENCHMARK_TIMING=1.12;42",
			want: &TestResult{
				RunIndex:  1,
				WallTime:  fp(1.12),
				MaxMemory: fp(42 * 1024),
			},
		},
		{
			name:    "no marker at all",
			output:  "some diagnostic output\nanother line",
			wantErr: ErrResultNotFound,
		},
		{
			name:    "empty output",
			output:  "",
			wantErr: ErrResultNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(1, []byte(tt.output))

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_RunIndexPassedThrough(t *testing.T) {
	got, err := Parse(7, []byte("BENCHMARK_TIMING=1.0;1;1.0;1.0"))
	require.NoError(t, err)
	assert.Equal(t, 7, got.RunIndex)
}

func TestParseAll(t *testing.T) {
	output := []byte(
		"setup noise\n" +
			"BENCHMARK_TIMING=1.12;42;1.10;0.02\n" +
			"between runs\n" +
			"BENCHMARK_TIMING=2.50;84;2.40;0.05\n" +
			"teardown noise\n",
	)

	got, err := ParseAll(output, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Run indexes follow discovery order, not anything in the text.
	assert.Equal(t, 1, got[0].RunIndex)
	assert.Equal(t, 2, got[1].RunIndex)
	assert.Equal(t, fp(2.50), got[1].WallTime)
}

func TestParseAll_NoMarkers(t *testing.T) {
	_, err := ParseAll([]byte("nothing useful"), 3)
	require.ErrorIs(t, err, ErrResultNotFound)
}

func TestParseAll_CountMismatch(t *testing.T) {
	got, err := ParseAll([]byte("BENCHMARK_TIMING=1.0;1;1.0;1.0\n"), 3)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrResultNotFound)
	// The discovered result is still returned for the caller to store.
	assert.Len(t, got, 1)
}
