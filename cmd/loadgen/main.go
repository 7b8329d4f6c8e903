package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"unitask.org/internal/sim"
)

// Drives full task lifecycles against a running API: register, create,
// accept, submit, verify. Conflicts and policy rejections are expected
// under load and counted separately.
func main() {
	var (
		baseURL  = flag.String("base-url", "http://localhost:8080", "API base URL")
		workers  = flag.Int("workers", 4, "Concurrent worker count")
		duration = flag.Duration("duration", 2*time.Minute, "Duration of the simulation")
		seed     = flag.Int64("seed", 0, "Scenario seed (0 = time-based)")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log.Printf("Launching load run: base=%s workers=%d duration=%s", *baseURL, *workers, *duration)

	gen := sim.NewGenerator(*seed)
	client := &http.Client{Timeout: 10 * time.Second}
	run := &runner{baseURL: *baseURL, client: client, tokens: map[string]string{}}

	if err := run.setup(ctx, gen); err != nil {
		log.Fatalf("setup: %v", err)
	}

	var (
		counter     sim.Counter
		counterMu   sync.Mutex
		successes   int64
		failures    int64
		conflicts   int64
		rateLimited int64
	)

	var wg sync.WaitGroup
	deadline := time.Now().Add(*duration)

	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			// Each worker draws from its own generator: the shared
			// rand source is not safe for concurrent use.
			wgen := sim.NewGenerator(*seed + int64(id)*9973 + 1)
			rnd := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))
			for time.Now().Before(deadline) {
				select {
				case <-ctx.Done():
					return
				default:
				}
				assignment := wgen.NextAssignment()
				err := run.lifecycle(ctx, assignment, wgen.NextScores())
				switch {
				case err == nil:
					atomic.AddInt64(&successes, 1)
					counterMu.Lock()
					counter.Add(assignment.Task)
					counterMu.Unlock()
				case errors.Is(err, errConflict):
					atomic.AddInt64(&conflicts, 1)
				case errors.Is(err, errRateLimited):
					atomic.AddInt64(&rateLimited, 1)
					time.Sleep(250 * time.Millisecond)
				default:
					atomic.AddInt64(&failures, 1)
					log.Printf("worker %d lifecycle: %v", id, err)
					time.Sleep(200 * time.Millisecond)
				}
				time.Sleep(time.Duration(50+rnd.Intn(120)) * time.Millisecond)
			}
		}(i)
	}

	wg.Wait()

	log.Printf("Run complete: %d lifecycles / %d failed (conflicts=%d, rate_limited=%d), volume %.2f UNI",
		successes, failures, conflicts, rateLimited, counter.MajorReward())
}

var (
	errConflict    = errors.New("state conflict")
	errRateLimited = errors.New("rate limited")
)

type runner struct {
	baseURL string
	client  *http.Client

	mu     sync.Mutex
	tokens map[string]string
}

// setup registers every scenario identity and has the owner verify the
// companies. Conflict responses mean a previous run already did this.
func (r *runner) setup(ctx context.Context, gen sim.Generator) error {
	ownerID := os.Getenv("UNITASK_OWNER")
	if ownerID == "" {
		ownerID = "owner"
	}
	for _, company := range gen.Companies() {
		code, err := r.do(ctx, company.ID, http.MethodPost, "/v1/companies", map[string]any{
			"name":        company.Name,
			"description": "load scenario issuer",
		}, nil)
		if err != nil {
			return fmt.Errorf("register company %s: %w", company.ID, err)
		}
		if code != http.StatusCreated && code != http.StatusConflict {
			return fmt.Errorf("register company %s: status %d", company.ID, code)
		}
		code, err = r.do(ctx, ownerID, http.MethodPost, "/v1/companies/"+company.ID+"/verify", nil, nil)
		if err != nil {
			return fmt.Errorf("verify company %s: %w", company.ID, err)
		}
		if code != http.StatusOK {
			return fmt.Errorf("verify company %s: status %d", company.ID, code)
		}
	}
	for _, student := range gen.Students() {
		code, err := r.do(ctx, student.ID, http.MethodPost, "/v1/students", map[string]any{
			"name":   student.Name,
			"skills": student.Skills,
		}, nil)
		if err != nil {
			return fmt.Errorf("register student %s: %w", student.ID, err)
		}
		if code != http.StatusCreated && code != http.StatusConflict {
			return fmt.Errorf("register student %s: status %d", student.ID, code)
		}
	}
	return nil
}

// lifecycle runs one create/accept/submit/verify chain.
func (r *runner) lifecycle(ctx context.Context, a sim.Assignment, scores sim.Scores) error {
	var task struct {
		ID int64 `json:"id"`
	}
	code, err := r.do(ctx, a.Company.ID, http.MethodPost, "/v1/tasks", map[string]any{
		"title":       a.Task.Title,
		"description": a.Task.Description,
		"reward":      a.Task.Reward,
		"deadline":    time.Now().UTC().Add(time.Duration(a.Task.DeadlineHours) * time.Hour).Format(time.RFC3339),
	}, &task)
	if err != nil {
		return err
	}
	if err := classify("create", code, http.StatusCreated); err != nil {
		return err
	}

	path := fmt.Sprintf("/v1/tasks/%d", task.ID)
	code, err = r.do(ctx, a.Student.ID, http.MethodPost, path+"/accept", nil, nil)
	if err != nil {
		return err
	}
	if err := classify("accept", code, http.StatusOK); err != nil {
		return err
	}

	code, err = r.do(ctx, a.Student.ID, http.MethodPost, path+"/submit", map[string]any{
		"submission_ref": fmt.Sprintf("loadgen-%d", task.ID),
	}, nil)
	if err != nil {
		return err
	}
	if err := classify("submit", code, http.StatusOK); err != nil {
		return err
	}

	// Moderator verification avoids the self-verification cooldown.
	ownerID := os.Getenv("UNITASK_OWNER")
	if ownerID == "" {
		ownerID = "owner"
	}
	code, err = r.do(ctx, ownerID, http.MethodPost, path+"/verify", map[string]any{
		"quality":  scores.Quality,
		"deadline": scores.Deadline,
		"attitude": scores.Attitude,
		"feedback": "automated load verification",
	}, nil)
	if err != nil {
		return err
	}
	return classify("verify", code, http.StatusOK)
}

func classify(step string, code, want int) error {
	switch {
	case code == want:
		return nil
	case code == http.StatusConflict:
		return errConflict
	case code == http.StatusTooManyRequests:
		return errRateLimited
	default:
		return fmt.Errorf("%s: unexpected status %d", step, code)
	}
}

func (r *runner) do(ctx context.Context, identity, method, path string, body, out any) (int, error) {
	token, err := r.token(ctx, identity)
	if err != nil {
		return 0, err
	}
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

// token issues and caches a bearer token per scenario identity. The
// owner identity gets the admin role so verification works.
func (r *runner) token(ctx context.Context, identity string) (string, error) {
	r.mu.Lock()
	cached, ok := r.tokens[identity]
	r.mu.Unlock()
	if ok {
		return cached, nil
	}

	role := "member"
	ownerID := os.Getenv("UNITASK_OWNER")
	if ownerID == "" {
		ownerID = "owner"
	}
	if identity == ownerID {
		role = "admin"
	}
	payload, _ := json.Marshal(map[string]any{
		"user":  identity,
		"roles": []string{role},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/auth/token", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("token endpoint: %s", resp.Status)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", errors.New("empty token returned")
	}

	r.mu.Lock()
	r.tokens[identity] = out.Token
	r.mu.Unlock()
	return out.Token, nil
}
