// Package worker executes queued benchmark jobs: fetch the build,
// unpack it, run the configured tests in containers, and persist the
// parsed measurements.
package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zeek/zeek-benchmarker/pkg/admission"
	"github.com/zeek/zeek-benchmarker/pkg/config"
	"github.com/zeek/zeek-benchmarker/pkg/queue"
	"github.com/zeek/zeek-benchmarker/pkg/results"
	"github.com/zeek/zeek-benchmarker/pkg/store"
)

// ErrInvalidChecksum is returned when a fetched build doesn't match the
// hash the request was signed over.
var ErrInvalidChecksum = errors.New("build checksum mismatch")

const (
	zeekInstallVolume   = "zeek_install_data"
	brokerInstallVolume = "broker_install_data"

	zeekRunnerImage = "zeek-benchmarker-zeek-runner"
	zeekRunScript   = "/benchmarker/scripts/run-zeek.sh"
	zeekInstallDir  = "/zeek/install"

	unpackStripComponents = 2

	fetchTimeout = 5 * time.Minute
)

// Processor runs dequeued jobs to completion.
type Processor struct {
	log        logrus.FieldLogger
	cfg        *config.Config
	runner     ContainerRunner
	store      store.Store
	httpClient *http.Client
}

// NewProcessor creates a Processor.
func NewProcessor(
	log logrus.FieldLogger,
	cfg *config.Config,
	runner ContainerRunner,
	st store.Store,
) *Processor {
	return &Processor{
		log:        log.WithField("component", "worker"),
		cfg:        cfg,
		runner:     runner,
		store:      st,
		httpClient: &http.Client{Timeout: fetchTimeout},
	}
}

// Run consumes jobs until the context is canceled. Job failures are
// logged and do not stop the loop; a broken broker connection does.
func (p *Processor) Run(ctx context.Context, consumer *queue.Consumer) error {
	for {
		job, err := consumer.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			return fmt.Errorf("consuming job: %w", err)
		}

		jobCtx, cancel := context.WithTimeout(ctx, job.Timeout)

		if err := p.Process(jobCtx, job); err != nil {
			p.log.WithError(err).
				WithField("job_id", job.ID).
				Error("Job failed")
		}

		cancel()
	}
}

// Process executes a single job: create the job directory, fetch and
// verify the build, unpack it, then run the benchmark suite.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	req := job.Request
	req.JobID = job.ID

	jobDir, err := filepath.Abs(filepath.Join(p.cfg.Benchmark.WorkDir, job.ID))
	if err != nil {
		return fmt.Errorf("resolving job dir: %w", err)
	}

	p.log.WithField("job_id", job.ID).
		WithField("build_url", req.BuildURL).
		WithField("job_dir", jobDir).
		Info("Working on job")

	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return fmt.Errorf("creating job dir: %w", err)
	}

	buildPath := filepath.Join(jobDir, filepath.Base(req.BuildURL))

	if err := p.fetchBuild(ctx, req.BuildURL, buildPath, req.BuildHash); err != nil {
		return err
	}

	installVolume := zeekInstallVolume
	if job.JobFunc == "broker" {
		installVolume = brokerInstallVolume
	}

	if err := p.runner.UnpackBuild(ctx, buildPath, installVolume,
		unpackStripComponents, p.cfg.Benchmark.TarTimeout); err != nil {
		return fmt.Errorf("unpacking build: %w", err)
	}

	for i := range p.cfg.Benchmark.ZeekTests {
		p.runZeekTest(ctx, req, &p.cfg.Benchmark.ZeekTests[i])
	}

	// Only clean up on success so failed jobs can be inspected.
	if err := os.RemoveAll(jobDir); err != nil {
		p.log.WithError(err).
			WithField("job_dir", jobDir).
			Warn("Failed to remove job dir")
	}

	return nil
}

// fetchBuild downloads url to dest, computing the sha256 on the fly and
// rejecting the file on mismatch with wantHash.
func (p *Processor) fetchBuild(ctx context.Context, url, dest, wantHash string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building fetch request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching %s: unexpected status %d", url, resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	defer f.Close()

	h := sha256.New()

	if _, err := io.Copy(io.MultiWriter(f, h), resp.Body); err != nil {
		return fmt.Errorf("downloading %s: %w", url, err)
	}

	digest := hex.EncodeToString(h.Sum(nil))
	if digest != wantHash {
		return fmt.Errorf("%w: %s: expected %s, got %s",
			ErrInvalidChecksum, url, wantHash, digest)
	}

	return nil
}

// runZeekTest runs one configured test the requested number of times,
// storing one row per run. A run without a parseable result stores an
// error row rather than disappearing.
func (p *Processor) runZeekTest(ctx context.Context, req *admission.JobRequest, test *results.TestDefinition) {
	if test.Skip {
		p.log.WithField("test_id", test.TestID).Warn("Skipping test")

		return
	}

	env := map[string]string{
		"BENCH_TEST_ID": test.TestID,
		"ZEEKCPUS":      p.cfg.ZeekCPUs(),
		"ZEEKBIN":       "/zeek/install/bin/zeek",
		"ZEEKSEED":      "/benchmarker/random.seed",
	}

	if test.BenchCommand != "" && test.BenchArgs != "" {
		env["BENCH_COMMAND"] = test.BenchCommand
		env["BENCH_ARGS"] = test.BenchArgs
	}

	if test.PcapFile != "" {
		env["DATA_FILE_NAME"] = test.PcapFile
	}

	var seccomp []byte

	if p.cfg.Benchmark.SeccompProfile != "" {
		var err error

		seccomp, err = os.ReadFile(p.cfg.Benchmark.SeccompProfile)
		if err != nil {
			p.log.WithError(err).Error("Failed to read seccomp profile")

			return
		}
	}

	for run := 1; run <= test.Runs; run++ {
		p.log.WithField("job_id", req.JobID).
			WithField("test_id", test.TestID).
			WithField("run", run).
			Debug("Running test")

		proc, err := p.runner.RunBenchmark(ctx, &RunSpec{
			Image:          zeekRunnerImage,
			Command:        []string{zeekRunScript},
			Env:            env,
			InstallVolume:  zeekInstallVolume,
			InstallTarget:  zeekInstallDir,
			SeccompProfile: seccomp,
			CPUSet:         p.cfg.ZeekCPUs(),
		})
		if err != nil {
			p.log.WithError(err).
				WithField("test_id", test.TestID).
				Error("Benchmark container failed")
			p.storeError(ctx, req, test, run, err.Error())

			continue
		}

		result, err := results.Parse(run, proc.Stdout)
		if err != nil {
			p.log.WithError(err).
				WithField("exit_code", proc.ExitCode).
				WithField("stdout", string(proc.Stdout)).
				WithField("stderr", string(proc.Stderr)).
				Error("Missing result")
			p.storeError(ctx, req, test, run, err.Error())

			continue
		}

		p.log.WithField("job_id", req.JobID).
			WithField("test_id", test.TestID).
			WithField("run", run).
			Info("Completed test run")

		// A result we can't persist must not be silently dropped.
		if err := p.store.StoreResult(ctx, req, test, result); err != nil {
			p.log.WithError(err).Fatal("Failed to store result")
		}
	}
}

func (p *Processor) storeError(ctx context.Context, req *admission.JobRequest, test *results.TestDefinition, run int, msg string) {
	if err := p.store.StoreError(ctx, req, test, run, msg); err != nil {
		p.log.WithError(err).Fatal("Failed to store error")
	}
}
