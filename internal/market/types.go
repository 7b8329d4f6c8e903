package market

import "time"

// TaskStatus is the lifecycle state of a task. Transitions only move
// forward: Created -> Accepted -> Submitted -> Completed.
type TaskStatus string

const (
	StatusCreated   TaskStatus = "created"
	StatusAccepted  TaskStatus = "accepted"
	StatusSubmitted TaskStatus = "submitted"
	StatusCompleted TaskStatus = "completed"
)

// Field bounds applied by the guard to all free-text input.
const (
	maxTitleLen         = 120
	maxDescriptionLen   = 4000
	maxFeedbackLen      = 2000
	maxSubmissionRefLen = 256
	maxNameLen          = 120
	maxSkillLen         = 64
	maxSkills           = 20
)

// Deadline bounds relative to task creation time.
const (
	minDeadlineLead = time.Hour
	maxDeadlineLead = 30 * 24 * time.Hour
)

// Reputation bounds. New students start in the middle of the range.
const (
	reputationMin     = 0
	reputationMax     = 1000
	reputationInitial = 500
)

// Task is a unit of work posted by a company. Records are append-only:
// tasks are never deleted, so the table doubles as the audit history.
type Task struct {
	ID            int64      `json:"id"`
	Issuer        string     `json:"issuer"`
	Performer     string     `json:"performer,omitempty"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Reward        int64      `json:"reward"` // minor units, immutable after creation
	Deadline      time.Time  `json:"deadline"`
	Status        TaskStatus `json:"status"`
	SubmissionRef string     `json:"submission_ref,omitempty"`
	Verifier      string     `json:"verifier,omitempty"`
	VerifiedAt    *time.Time `json:"verified_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`

	// payoutAttempts counts verification attempts that reached the
	// ledger. It scopes the transfer idempotency keys, so a retry
	// after a partial failure moves funds instead of replaying keys
	// consumed by the compensated attempt.
	payoutAttempts int
}

// StudentProfile tracks a performer's standing on the platform.
type StudentProfile struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Skills         []string  `json:"skills,omitempty"`
	Reputation     int       `json:"reputation"`
	TotalTasks     int       `json:"total_tasks"`
	CompletedTasks int       `json:"completed_tasks"`
	ActiveTasks    int       `json:"active_tasks"`
	CreatedAt      time.Time `json:"created_at"`
}

// CompanyProfile tracks an issuer's standing. LastSelfVerifiedAt and
// VerificationCount drive the conflict-of-interest cooldown.
type CompanyProfile struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Description        string     `json:"description,omitempty"`
	Verified           bool       `json:"verified"`
	TotalTasks         int        `json:"total_tasks"`
	CompletedTasks     int        `json:"completed_tasks"`
	ActiveTasks        int        `json:"active_tasks"`
	RewardsDistributed int64      `json:"rewards_distributed"`
	VerificationCount  int        `json:"verification_count"`
	LastSelfVerifiedAt *time.Time `json:"last_self_verified_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// SecurityConfig holds owner-mutable policy parameters.
type SecurityConfig struct {
	MinReward                int64         `json:"min_reward"`
	MaxReward                int64         `json:"max_reward"`
	CooldownPeriod           time.Duration `json:"cooldown_period"`
	MaxActiveTasksPerStudent int           `json:"max_active_tasks_per_student"`
	MaxActiveTasksPerCompany int           `json:"max_active_tasks_per_company"`
	PlatformFeePercent       int64         `json:"platform_fee_percent"`
}

// maxCooldown caps the self-verification cooldown at one day.
const maxCooldown = 24 * time.Hour

// DefaultSecurityConfig returns the policy set applied at initialization.
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		MinReward:                100,
		MaxReward:                1_000_000,
		CooldownPeriod:           time.Hour,
		MaxActiveTasksPerStudent: 5,
		MaxActiveTasksPerCompany: 20,
		PlatformFeePercent:       5,
	}
}

// Validate checks internal consistency of the configuration.
func (c SecurityConfig) Validate() error {
	if c.MinReward <= 0 {
		return wrapValidation("min_reward must be > 0")
	}
	if c.MaxReward <= c.MinReward {
		return wrapValidation("max_reward must be greater than min_reward")
	}
	if c.CooldownPeriod < 0 || c.CooldownPeriod > maxCooldown {
		return wrapValidation("cooldown_period must be within [0, 24h]")
	}
	if c.MaxActiveTasksPerStudent <= 0 || c.MaxActiveTasksPerCompany <= 0 {
		return wrapValidation("active task limits must be > 0")
	}
	if c.PlatformFeePercent < 0 || c.PlatformFeePercent > 100 {
		return wrapValidation("platform_fee_percent must be within [0, 100]")
	}
	return nil
}

// Scores are the three verification dimensions, each in [0, 100].
type Scores struct {
	Quality  int `json:"quality"`
	Deadline int `json:"deadline"`
	Attitude int `json:"attitude"`
}

// Average returns the integer mean of the three scores. Integer division
// truncates toward zero; (89+89+89)/3 = 89, (89+90+90)/3 = 89.
func (s Scores) Average() int {
	return (s.Quality + s.Deadline + s.Attitude) / 3
}

// CreateTaskInput carries the caller-supplied fields for task creation.
type CreateTaskInput struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Reward      int64     `json:"reward"`
	Deadline    time.Time `json:"deadline"`
}
