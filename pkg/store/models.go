package store

import (
	"time"
)

// Job is the durable record of an admitted build trigger.
type Job struct {
	ID        string `gorm:"primaryKey" json:"id"`
	Kind      string `gorm:"not null" json:"kind"`
	BuildURL  string `json:"build_url"`
	BuildHash string `json:"build_hash"`

	SHA            string `json:"sha"`
	Branch         string `json:"branch"`
	OriginalBranch string `json:"original_branch"`

	CirrusRepoOwner    string `json:"cirrus_repo_owner"`
	CirrusRepoName     string `json:"cirrus_repo_name"`
	CirrusTaskID       string `json:"cirrus_task_id"`
	CirrusTaskName     string `json:"cirrus_task_name"`
	CirrusBuildID      string `json:"cirrus_build_id"`
	CirrusPR           string `json:"cirrus_pr"`
	GithubCheckSuiteID string `json:"github_check_suite_id"`
	RepoVersion        string `json:"repo_version"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName keeps the historical table name.
func (Job) TableName() string { return "jobs" }

// ZeekTestRow is one parsed measurement tied to its job and test
// identity. Rows are append-only; a failed run stores success=false and
// the error text instead of measurements.
type ZeekTestRow struct {
	ID uint `gorm:"primaryKey" json:"id"`

	JobID   string `gorm:"index;not null" json:"job_id"`
	TestID  string `gorm:"not null" json:"test_id"`
	TestRun int    `gorm:"not null" json:"test_run"`

	SHA    string `json:"sha"`
	Branch string `json:"branch"`

	ElapsedTime *float64 `json:"elapsed_time"`
	UserTime    *float64 `json:"user_time"`
	SystemTime  *float64 `json:"system_time"`
	MaxRSS      *float64 `json:"max_rss"` // bytes

	Success bool   `gorm:"not null" json:"success"`
	Error   string `json:"error"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName keeps the historical table name.
func (ZeekTestRow) TableName() string { return "zeek_tests" }
