package market

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"unitask.org/internal/ledger"
	"unitask.org/internal/obs"
	"unitask.org/internal/stream"
)

// Ledger account ids held by the platform itself.
const (
	EscrowAccount   = "escrow"
	TreasuryAccount = "treasury"
)

// defaultTreasurySupply seeds the treasury at initialization, in minor units.
const defaultTreasurySupply int64 = 1_000_000_000_000

// Service is the task verification and reward engine. A single mutex
// serializes every task-state mutation, reproducing the reference
// platform's global call ordering: one operation completes fully before
// the next begins. Ledger transfers happen after internal state is
// committed and the lock released, so a reentrant call from a malicious
// ledger observes the new status and is rejected by the state guard.
type Service struct {
	mu sync.Mutex

	cfg       SecurityConfig
	registry  *Registry
	authority *Authority
	guard     *Guard

	ledger ledger.Service
	events *stream.Stream

	tasks      map[int64]*Task
	nextTaskID int64

	initialGrant int64
	now          func() time.Time
}

// Option configures Service.
type Option func(*Service)

// WithClock overrides the time source, used by cooldown and deadline tests.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithSecurityConfig overrides the default policy parameters.
func WithSecurityConfig(cfg SecurityConfig) Option {
	return func(s *Service) { s.cfg = cfg }
}

// WithInitialGrant makes registration transfer a starter balance from the
// treasury to every new company account.
func WithInitialGrant(amount int64) Option {
	return func(s *Service) {
		if amount > 0 {
			s.initialGrant = amount
		}
	}
}

// New constructs the engine. The owner identity is permanent. The escrow,
// treasury and owner accounts are opened on the ledger up front.
func New(l ledger.Service, events *stream.Stream, owner string, opts ...Option) (*Service, error) {
	if l == nil {
		return nil, wrapValidation("ledger is required")
	}
	authority, err := NewAuthority(owner)
	if err != nil {
		return nil, err
	}
	s := &Service{
		cfg:       DefaultSecurityConfig(),
		registry:  NewRegistry(),
		authority: authority,
		guard:     NewGuard(),
		ledger:    l,
		events:    events,
		tasks:     make(map[int64]*Task),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}

	ctx := context.Background()
	for _, acct := range []struct {
		id      string
		initial int64
	}{
		{EscrowAccount, 0},
		{TreasuryAccount, defaultTreasurySupply},
		{owner, 0},
	} {
		_, err := s.ledger.OpenAccount(ctx, acct.id, ledger.Money{Currency: ledger.DefaultCurrency, Amount: acct.initial})
		if err != nil && err != ledger.ErrAccountExists {
			return nil, fmt.Errorf("%w: open %s account: %v", ErrLedger, acct.id, err)
		}
	}
	return s, nil
}

// Guard exposes the anti-fraud guard for collaborators.
func (s *Service) Guard() *Guard { return s.guard }

// Owner returns the permanent owner identity.
func (s *Service) Owner() string { return s.authority.Owner() }

// Moderators returns the explicit moderator set.
func (s *Service) Moderators() []string { return s.authority.Moderators() }

// IsModerator reports whether the identity holds moderator rights.
func (s *Service) IsModerator(id string) bool { return s.authority.IsModerator(id) }

func (s *Service) publish(evt stream.Event) {
	if s.events != nil {
		s.events.Publish(evt)
	}
}

// --- Registration ---

// RegisterCompany creates a company profile and its ledger account.
// Companies start unverified; the external approval workflow flips the
// flag through SetCompanyVerified.
func (s *Service) RegisterCompany(ctx context.Context, id, name, description string) (CompanyProfile, error) {
	if err := s.guard.CheckOperational(); err != nil {
		return CompanyProfile{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" || len(id) > 64 {
		return CompanyProfile{}, wrapValidation("identity is required")
	}
	if err := checkText("name", name, maxNameLen); err != nil {
		return CompanyProfile{}, err
	}
	description = strings.TrimSpace(description)
	if len(description) > maxDescriptionLen {
		return CompanyProfile{}, wrapValidation("description exceeds maximum length")
	}

	profile := CompanyProfile{
		ID:          id,
		Name:        strings.TrimSpace(name),
		Description: description,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.registry.AddCompany(profile); err != nil {
		return CompanyProfile{}, err
	}
	if _, err := s.ledger.OpenAccount(ctx, id, ledger.Money{Currency: ledger.DefaultCurrency, Amount: 0}); err != nil && err != ledger.ErrAccountExists {
		return CompanyProfile{}, fmt.Errorf("%w: open account: %v", ErrLedger, err)
	}
	if s.initialGrant > 0 {
		if _, err := s.ledger.Transfer(ctx, TreasuryAccount, id,
			ledger.Money{Currency: ledger.DefaultCurrency, Amount: s.initialGrant},
			"registration grant", "grant-"+id); err != nil {
			// Registration stands; the company just starts unfunded.
			// A drained treasury must show up in the logs.
			obs.LogEvent(map[string]any{
				"level":   "warn",
				"msg":     "registration_grant_failed",
				"company": id,
				"amount":  s.initialGrant,
				"error":   err.Error(),
			})
		} else {
			s.publish(stream.Event{Type: stream.TypeTokensDistributed, Subject: id, Amount: s.initialGrant, Reason: "registration grant"})
		}
	}
	return profile, nil
}

// RegisterStudent creates a student profile and its ledger account.
func (s *Service) RegisterStudent(ctx context.Context, id, name string, skills []string) (StudentProfile, error) {
	if err := s.guard.CheckOperational(); err != nil {
		return StudentProfile{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" || len(id) > 64 {
		return StudentProfile{}, wrapValidation("identity is required")
	}
	if err := checkText("name", name, maxNameLen); err != nil {
		return StudentProfile{}, err
	}
	if len(skills) > maxSkills {
		return StudentProfile{}, wrapValidation("too many skill tags")
	}
	cleaned := make([]string, 0, len(skills))
	for _, skill := range skills {
		skill = strings.TrimSpace(skill)
		if skill == "" {
			continue
		}
		if len(skill) > maxSkillLen {
			return StudentProfile{}, wrapValidation("skill tag exceeds maximum length")
		}
		cleaned = append(cleaned, skill)
	}

	profile := StudentProfile{
		ID:         id,
		Name:       strings.TrimSpace(name),
		Skills:     cleaned,
		Reputation: reputationInitial,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.registry.AddStudent(profile); err != nil {
		return StudentProfile{}, err
	}
	if _, err := s.ledger.OpenAccount(ctx, id, ledger.Money{Currency: ledger.DefaultCurrency, Amount: 0}); err != nil && err != ledger.ErrAccountExists {
		return StudentProfile{}, fmt.Errorf("%w: open account: %v", ErrLedger, err)
	}
	return profile, nil
}

// SetCompanyVerified flips the verified flag. Moderator or owner only;
// invoked by the off-platform registration approval workflow.
func (s *Service) SetCompanyVerified(ctx context.Context, caller, companyID string, verified bool) error {
	if !s.authority.IsModerator(caller) {
		return wrapUnauthorized("verification approval requires moderator rights")
	}
	return s.registry.UpdateCompany(companyID, func(p *CompanyProfile) {
		p.Verified = verified
	})
}

// --- Task lifecycle ---

// CreateTask inserts a task in status Created and escrows the reward from
// the issuer's account. Any guard failure aborts with no state change; if
// escrow funding fails, the inserted row and counters are rolled back.
func (s *Service) CreateTask(ctx context.Context, issuer string, in CreateTaskInput) (Task, error) {
	if err := s.guard.CheckOperational(); err != nil {
		return Task{}, err
	}

	s.mu.Lock()
	now := s.now().UTC()
	company, err := s.registry.Company(issuer)
	if err != nil {
		s.mu.Unlock()
		return Task{}, wrapUnauthorized("issuer is not a registered company")
	}
	if !company.Verified {
		s.mu.Unlock()
		return Task{}, wrapUnauthorized("issuer company is not verified")
	}
	if err := s.guard.CheckCreateTaskInput(in, s.cfg, now); err != nil {
		s.mu.Unlock()
		return Task{}, err
	}
	if err := s.guard.CheckCompanyRate(company, s.cfg); err != nil {
		s.mu.Unlock()
		return Task{}, err
	}

	s.nextTaskID++
	id := s.nextTaskID
	task := &Task{
		ID:          id,
		Issuer:      issuer,
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		Reward:      in.Reward,
		Deadline:    in.Deadline.UTC(),
		Status:      StatusCreated,
		CreatedAt:   now,
	}
	s.tasks[id] = task
	_ = s.registry.UpdateCompany(issuer, func(p *CompanyProfile) {
		p.ActiveTasks++
		p.TotalTasks++
	})
	out := *task
	s.mu.Unlock()

	// Interaction last: escrow the reward. Roll back on failure.
	if _, err := s.ledger.Transfer(ctx, issuer, EscrowAccount,
		ledger.Money{Currency: ledger.DefaultCurrency, Amount: in.Reward},
		"task escrow", fmt.Sprintf("task-%d-escrow", id)); err != nil {
		s.mu.Lock()
		delete(s.tasks, id)
		_ = s.registry.UpdateCompany(issuer, func(p *CompanyProfile) {
			p.ActiveTasks--
			p.TotalTasks--
		})
		s.mu.Unlock()
		return Task{}, fmt.Errorf("%w: escrow funding: %v", ErrLedger, err)
	}

	obs.TaskCreated()
	s.publish(stream.Event{Type: stream.TypeTaskCreated, TaskID: id, Actor: issuer, Amount: in.Reward})
	return out, nil
}

// AcceptTask assigns the task to a performer. Concurrent accepts resolve
// to exactly one winner; losers fail with a state error.
func (s *Service) AcceptTask(ctx context.Context, performer string, taskID int64) (Task, error) {
	if err := s.guard.CheckOperational(); err != nil {
		return Task{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return Task{}, ErrNotFound
	}
	if task.Status != StatusCreated {
		return Task{}, wrapState("task is not open for acceptance")
	}
	student, err := s.registry.Student(performer)
	if err != nil {
		return Task{}, wrapUnauthorized("performer is not a registered student")
	}
	if performer == task.Issuer {
		return Task{}, wrapPolicy("issuer cannot perform its own task")
	}
	if err := s.guard.CheckStudentRate(student, s.cfg); err != nil {
		return Task{}, err
	}

	task.Performer = performer
	task.Status = StatusAccepted
	_ = s.registry.UpdateStudent(performer, func(p *StudentProfile) {
		p.ActiveTasks++
		p.TotalTasks++
	})

	out := *task
	s.publish(stream.Event{Type: stream.TypeTaskAccepted, TaskID: taskID, Actor: performer})
	return out, nil
}

// SubmitTask records the submission reference. Only the assigned performer
// may submit, and only from status Accepted.
func (s *Service) SubmitTask(ctx context.Context, performer string, taskID int64, submissionRef string) (Task, error) {
	if err := s.guard.CheckOperational(); err != nil {
		return Task{}, err
	}
	if err := checkText("submission reference", submissionRef, maxSubmissionRefLen); err != nil {
		return Task{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return Task{}, ErrNotFound
	}
	if task.Status != StatusAccepted {
		return Task{}, wrapState("task is not in accepted state")
	}
	if task.Performer != performer {
		return Task{}, wrapUnauthorized("only the assigned performer may submit")
	}

	task.SubmissionRef = strings.TrimSpace(submissionRef)
	task.Status = StatusSubmitted

	out := *task
	s.publish(stream.Event{Type: stream.TypeTaskSubmitted, TaskID: taskID, Actor: performer})
	return out, nil
}

// verifySnapshot captures what the rollback cannot reconstruct from
// deltas: the task record itself (terminal once Completed, so no other
// operation mutates it) and the previous self-verification stamp.
type verifySnapshot struct {
	task               Task
	lastSelfVerifiedAt *time.Time
}

// VerifyTask is the terminal transition. Checks-effects-interactions
// discipline, in this strict order:
//  1. validate state, input and verifier authority;
//  2. commit all internal state (status, verifier, counters, reputation,
//     cooldown stamp) while holding the lock;
//  3. only then issue the ledger transfers.
//
// A reentrant VerifyTask triggered by the ledger call finds the task
// already Completed and fails at step 1. If any transfer fails, step 2 is
// rolled back in full so task state never drifts from the ledger.
func (s *Service) VerifyTask(ctx context.Context, verifier string, taskID int64, scores Scores, feedback string) (Task, error) {
	if err := s.guard.CheckOperational(); err != nil {
		return Task{}, err
	}
	if err := s.guard.CheckVerificationInput(scores, feedback); err != nil {
		return Task{}, err
	}

	s.mu.Lock()
	task, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return Task{}, ErrNotFound
	}
	if task.Status != StatusSubmitted {
		s.mu.Unlock()
		return Task{}, wrapState("task is not awaiting verification")
	}

	now := s.now().UTC()
	isModerator := s.authority.IsModerator(verifier)
	selfVerify := false
	if !isModerator {
		if verifier != task.Issuer {
			s.mu.Unlock()
			return Task{}, wrapUnauthorized("verifier must be a moderator or the issuing company")
		}
		company, err := s.registry.Company(verifier)
		if err != nil {
			s.mu.Unlock()
			return Task{}, wrapUnauthorized("issuing company is not registered")
		}
		if err := s.guard.CheckCooldown(company, s.cfg, now); err != nil {
			s.mu.Unlock()
			return Task{}, err
		}
		selfVerify = true
	}

	average := scores.Average()
	fee, net := feeSplit(task.Reward, s.cfg.PlatformFeePercent)
	delta := reputationDelta(average)

	student, err := s.registry.Student(task.Performer)
	if err != nil {
		s.mu.Unlock()
		return Task{}, fmt.Errorf("%w: performer profile missing", ErrNotFound)
	}
	companyBefore, err := s.registry.Company(task.Issuer)
	if err != nil {
		s.mu.Unlock()
		return Task{}, fmt.Errorf("%w: issuer profile missing", ErrNotFound)
	}

	// The attempt counter bumps before the snapshot so a rollback keeps
	// it and the next attempt gets fresh idempotency keys.
	task.payoutAttempts++
	attempt := task.payoutAttempts
	snap := verifySnapshot{task: *task, lastSelfVerifiedAt: companyBefore.LastSelfVerifiedAt}

	// Effects: commit every internal mutation before touching the ledger.
	task.Status = StatusCompleted
	task.Verifier = verifier
	verifiedAt := now
	task.VerifiedAt = &verifiedAt

	newReputation := clampReputation(student.Reputation + delta)
	appliedDelta := newReputation - student.Reputation
	_ = s.registry.UpdateStudent(task.Performer, func(p *StudentProfile) {
		p.ActiveTasks--
		p.CompletedTasks++
		p.Reputation = newReputation
	})
	_ = s.registry.UpdateCompany(task.Issuer, func(p *CompanyProfile) {
		p.ActiveTasks--
		p.CompletedTasks++
		p.RewardsDistributed += task.Reward
		if selfVerify {
			p.VerificationCount++
			stamp := now
			p.LastSelfVerifiedAt = &stamp
		}
	})

	performer := task.Performer
	issuer := task.Issuer
	reward := task.Reward
	out := *task
	s.mu.Unlock()

	// Interactions: escrow pays the performer, then the platform fee.
	// The rollback applies compensating deltas rather than restoring an
	// absolute snapshot: mutations that land while the lock is released
	// (an accept bumping the same counters) must survive it.
	rollback := func() {
		s.mu.Lock()
		restored := snap.task
		*s.tasks[taskID] = restored
		_ = s.registry.UpdateStudent(performer, func(p *StudentProfile) {
			p.ActiveTasks++
			p.CompletedTasks--
			p.Reputation = clampReputation(p.Reputation - appliedDelta)
		})
		_ = s.registry.UpdateCompany(issuer, func(p *CompanyProfile) {
			p.ActiveTasks++
			p.CompletedTasks--
			p.RewardsDistributed -= reward
			if selfVerify {
				p.VerificationCount--
				p.LastSelfVerifiedAt = snap.lastSelfVerifiedAt
			}
		})
		s.mu.Unlock()
	}

	if _, err := s.ledger.Transfer(ctx, EscrowAccount, performer,
		ledger.Money{Currency: ledger.DefaultCurrency, Amount: net},
		"task reward", fmt.Sprintf("task-%d-reward-%d", taskID, attempt)); err != nil {
		rollback()
		return Task{}, fmt.Errorf("%w: reward payout: %v", ErrLedger, err)
	}
	if fee > 0 {
		if _, err := s.ledger.Transfer(ctx, EscrowAccount, s.authority.Owner(),
			ledger.Money{Currency: ledger.DefaultCurrency, Amount: fee},
			"platform fee", fmt.Sprintf("task-%d-fee-%d", taskID, attempt)); err != nil {
			// Compensate the already-applied payout before rolling back.
			_, _ = s.ledger.Transfer(ctx, performer, EscrowAccount,
				ledger.Money{Currency: ledger.DefaultCurrency, Amount: net},
				"reward reversal", fmt.Sprintf("task-%d-reversal-%d", taskID, attempt))
			rollback()
			return Task{}, fmt.Errorf("%w: platform fee: %v", ErrLedger, err)
		}
	}

	obs.TaskCompleted(reward)
	s.publish(stream.Event{Type: stream.TypeTaskCompleted, TaskID: taskID, Actor: verifier, Score: average})
	s.publish(stream.Event{Type: stream.TypeReputationUpdated, TaskID: taskID, Subject: performer, Score: newReputation, Delta: delta})
	s.publish(stream.Event{Type: stream.TypeTokensDistributed, TaskID: taskID, Subject: performer, Amount: net, Reason: "task reward"})
	if fee > 0 {
		s.publish(stream.Event{Type: stream.TypeTokensDistributed, TaskID: taskID, Subject: s.authority.Owner(), Amount: fee, Reason: "platform fee"})
	}
	return out, nil
}

// --- Queries ---

// GetTask returns a copy of the task.
func (s *Service) GetTask(ctx context.Context, taskID int64) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return Task{}, ErrNotFound
	}
	return *task, nil
}

// ListTasks returns up to limit tasks with id > afterID, in id order.
// An empty status matches all lifecycle states.
func (s *Service) ListTasks(ctx context.Context, status TaskStatus, limit int, afterID int64) ([]Task, int64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []Task
	var last int64
	for id := afterID + 1; id <= s.nextTaskID && len(res) < limit; id++ {
		task, ok := s.tasks[id]
		if !ok {
			continue
		}
		if status != "" && task.Status != status {
			continue
		}
		res = append(res, *task)
		last = id
	}
	return res, last, nil
}

// GetStudent returns the student profile, including the active-task count.
func (s *Service) GetStudent(ctx context.Context, id string) (StudentProfile, error) {
	return s.registry.Student(id)
}

// GetCompany returns the company profile, including the active-task count.
func (s *Service) GetCompany(ctx context.Context, id string) (CompanyProfile, error) {
	return s.registry.Company(id)
}

// --- Administration ---

// AddModerator grants moderator rights. Owner-only.
func (s *Service) AddModerator(ctx context.Context, caller, id string) error {
	return s.authority.AddModerator(caller, id)
}

// RemoveModerator revokes moderator rights. Owner-only.
func (s *Service) RemoveModerator(ctx context.Context, caller, id string) error {
	return s.authority.RemoveModerator(caller, id)
}

// Pause engages the soft brake. Owner-only.
func (s *Service) Pause(ctx context.Context, caller string) error {
	if !s.authority.IsOwner(caller) {
		return wrapUnauthorized("only the owner controls pause")
	}
	s.guard.SetPaused(true)
	return nil
}

// Unpause releases the soft brake. Owner-only.
func (s *Service) Unpause(ctx context.Context, caller string) error {
	if !s.authority.IsOwner(caller) {
		return wrapUnauthorized("only the owner controls pause")
	}
	s.guard.SetPaused(false)
	return nil
}

// ActivateEmergencyStop engages the kill switch. Owner-only.
func (s *Service) ActivateEmergencyStop(ctx context.Context, caller string) error {
	if !s.authority.IsOwner(caller) {
		return wrapUnauthorized("only the owner controls the emergency stop")
	}
	s.guard.SetStopped(true)
	return nil
}

// DeactivateEmergencyStop releases the kill switch. Owner-only.
func (s *Service) DeactivateEmergencyStop(ctx context.Context, caller string) error {
	if !s.authority.IsOwner(caller) {
		return wrapUnauthorized("only the owner controls the emergency stop")
	}
	s.guard.SetStopped(false)
	return nil
}

// UpdateSecurityConfig replaces the policy parameters. Owner-only,
// validated before application.
func (s *Service) UpdateSecurityConfig(ctx context.Context, caller string, cfg SecurityConfig) error {
	if !s.authority.IsOwner(caller) {
		return wrapUnauthorized("only the owner updates security settings")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	return nil
}

// SecurityConfig returns the active policy parameters.
func (s *Service) SecurityConfig() SecurityConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Status reports the guard switch positions.
func (s *Service) Status() (paused, stopped bool) {
	return s.guard.Status()
}
