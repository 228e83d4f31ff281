// Package store persists admitted jobs and parsed benchmark results.
package store

import (
	"context"
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/zeek/zeek-benchmarker/pkg/admission"
	"github.com/zeek/zeek-benchmarker/pkg/config"
	"github.com/zeek/zeek-benchmarker/pkg/results"
)

// Store provides append-only persistence for jobs and test results.
//
// Writes are atomic per call; either the full row becomes visible or
// none of it does. Store failures are not recovered here, a lost result
// is a data-loss event the caller must see.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// StoreJob persists the admitted job under the given queue job id.
	StoreJob(ctx context.Context, jobID, kind string, req *admission.JobRequest) error

	// StoreResult persists one parsed measurement row.
	StoreResult(ctx context.Context, job *admission.JobRequest, test *results.TestDefinition, result *results.TestResult) error

	// StoreError persists a failed run with the error message.
	StoreError(ctx context.Context, job *admission.JobRequest, test *results.TestDefinition, testRun int, errMsg string) error

	// Full scans, used for verification and reporting.
	ListJobs(ctx context.Context) ([]Job, error)
	ListResults(ctx context.Context) ([]ZeekTestRow, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a Store backed by the configured database driver.
func NewStore(log logrus.FieldLogger, cfg *config.DatabaseConfig) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations. Schema
// creation is idempotent; restarting against an existing database is
// safe.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(
		&Job{},
		&ZeekTestRow{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

func (s *store) StoreJob(ctx context.Context, jobID, kind string, req *admission.JobRequest) error {
	row := &Job{
		ID:        jobID,
		Kind:      kind,
		BuildURL:  req.BuildURL,
		BuildHash: req.BuildHash,

		SHA:            req.Commit,
		Branch:         req.NormalizedBranch,
		OriginalBranch: req.OriginalBranch,

		CirrusRepoOwner:    req.CirrusRepoOwner,
		CirrusRepoName:     req.CirrusRepoName,
		CirrusTaskID:       req.CirrusTaskID,
		CirrusTaskName:     req.CirrusTaskName,
		CirrusBuildID:      req.CirrusBuildID,
		CirrusPR:           req.CirrusPR,
		GithubCheckSuiteID: req.GithubCheckSuiteID,
		RepoVersion:        req.RepoVersion,
	}

	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("storing job %s: %w", jobID, err)
	}

	return nil
}

func (s *store) StoreResult(ctx context.Context, job *admission.JobRequest, test *results.TestDefinition, result *results.TestResult) error {
	row := &ZeekTestRow{
		JobID:   job.JobID,
		TestID:  test.TestID,
		TestRun: result.RunIndex,

		SHA:    job.Commit,
		Branch: job.OriginalBranch,

		ElapsedTime: result.WallTime,
		UserTime:    result.UserTime,
		SystemTime:  result.SystemTime,
		MaxRSS:      result.MaxMemory,

		Success: true,
	}

	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("storing result %s:%s (%d): %w", job.JobID, test.TestID, result.RunIndex, err)
	}

	return nil
}

func (s *store) StoreError(ctx context.Context, job *admission.JobRequest, test *results.TestDefinition, testRun int, errMsg string) error {
	row := &ZeekTestRow{
		JobID:   job.JobID,
		TestID:  test.TestID,
		TestRun: testRun,

		SHA:    job.Commit,
		Branch: job.OriginalBranch,

		Success: false,
		Error:   errMsg,
	}

	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("storing error %s:%s (%d): %w", job.JobID, test.TestID, testRun, err)
	}

	return nil
}

func (s *store) ListJobs(ctx context.Context) ([]Job, error) {
	var jobs []Job
	if err := s.db.WithContext(ctx).
		Order("created_at ASC").
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}

	return jobs, nil
}

func (s *store) ListResults(ctx context.Context) ([]ZeekTestRow, error) {
	var rows []ZeekTestRow
	if err := s.db.WithContext(ctx).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing results: %w", err)
	}

	return rows, nil
}
