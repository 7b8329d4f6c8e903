package market

import (
	"strings"
	"sync"
	"time"

	"unitask.org/internal/obs"
)

// Guard implements the anti-fraud policy checks consulted before every
// mutating operation: pause, emergency stop, rate limits, the company
// self-verification cooldown and free-text field validation.
//
// Pause and emergency stop are distinct switches for layered incident
// response: pause is the soft brake, emergency stop the owner-only kill
// switch. Both reject registrations and all task mutations; authority and
// guard administration stay available so the incident can be resolved.
type Guard struct {
	mu      sync.RWMutex
	paused  bool
	stopped bool
}

// NewGuard returns a guard with both switches disengaged.
func NewGuard() *Guard { return &Guard{} }

// SetPaused engages or releases the pause switch.
func (g *Guard) SetPaused(v bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paused = v
}

// SetStopped engages or releases the emergency stop.
func (g *Guard) SetStopped(v bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopped = v
}

// Status reports the current switch positions.
func (g *Guard) Status() (paused, stopped bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.paused, g.stopped
}

// CheckOperational rejects when either switch is engaged.
func (g *Guard) CheckOperational() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.stopped {
		obs.GuardRejected("emergency_stop")
		return wrapPolicy("emergency stop engaged")
	}
	if g.paused {
		obs.GuardRejected("paused")
		return wrapPolicy("system paused")
	}
	return nil
}

// CheckCompanyRate rejects task creation once the company is at its
// active-task limit.
func (g *Guard) CheckCompanyRate(p CompanyProfile, cfg SecurityConfig) error {
	if p.ActiveTasks >= cfg.MaxActiveTasksPerCompany {
		obs.GuardRejected("company_rate_limit")
		return wrapPolicy("company active task limit reached")
	}
	return nil
}

// CheckStudentRate rejects task acceptance once the student is at its
// active-task limit.
func (g *Guard) CheckStudentRate(p StudentProfile, cfg SecurityConfig) error {
	if p.ActiveTasks >= cfg.MaxActiveTasksPerStudent {
		obs.GuardRejected("student_rate_limit")
		return wrapPolicy("student active task limit reached")
	}
	return nil
}

// CheckCooldown enforces the conflict-of-interest rule for a company
// verifying its own task: the first-ever verification is free, afterwards
// at least cfg.CooldownPeriod must have elapsed since the last one.
func (g *Guard) CheckCooldown(p CompanyProfile, cfg SecurityConfig, now time.Time) error {
	if p.VerificationCount == 0 || p.LastSelfVerifiedAt == nil {
		return nil
	}
	if now.Sub(*p.LastSelfVerifiedAt) < cfg.CooldownPeriod {
		obs.GuardRejected("cooldown")
		return wrapPolicy("self-verification cooldown not met")
	}
	return nil
}

// checkText validates a required free-text field against its length cap.
func checkText(field, value string, max int) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return wrapValidation(field + " is required")
	}
	if len(value) > max {
		return wrapValidation(field + " exceeds maximum length")
	}
	return nil
}

// checkScore validates a verification score dimension.
func checkScore(field string, value int) error {
	if value < 0 || value > 100 {
		return wrapValidation(field + " must be within [0, 100]")
	}
	return nil
}

// CheckCreateTaskInput validates all caller-supplied task fields against
// the current policy configuration.
func (g *Guard) CheckCreateTaskInput(in CreateTaskInput, cfg SecurityConfig, now time.Time) error {
	if err := checkText("title", in.Title, maxTitleLen); err != nil {
		return err
	}
	if err := checkText("description", in.Description, maxDescriptionLen); err != nil {
		return err
	}
	if in.Reward < cfg.MinReward || in.Reward > cfg.MaxReward {
		return wrapValidation("reward outside configured bounds")
	}
	if in.Deadline.Before(now.Add(minDeadlineLead)) {
		return wrapValidation("deadline must be at least one hour ahead")
	}
	if in.Deadline.After(now.Add(maxDeadlineLead)) {
		return wrapValidation("deadline must be within thirty days")
	}
	return nil
}

// CheckVerificationInput validates scores and feedback.
func (g *Guard) CheckVerificationInput(s Scores, feedback string) error {
	if err := checkScore("quality score", s.Quality); err != nil {
		return err
	}
	if err := checkScore("deadline score", s.Deadline); err != nil {
		return err
	}
	if err := checkScore("attitude score", s.Attitude); err != nil {
		return err
	}
	return checkText("feedback", feedback, maxFeedbackLen)
}
