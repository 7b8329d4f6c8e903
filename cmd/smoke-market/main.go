package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"unitask.org/internal/ledger"
	"unitask.org/internal/market"
	"unitask.org/internal/stream"
)

// Runs one full task lifecycle against the in-memory engine and checks
// that payouts and reputation land where they should.
func main() {
	ctx := context.Background()
	led := ledger.NewInMemory()
	svc, err := market.New(led, stream.New(), "owner", market.WithInitialGrant(100_000))
	if err != nil {
		log.Fatalf("init engine: %v", err)
	}

	if _, err := svc.RegisterCompany(ctx, "smoke-co", "Smoke Test Co", "end-to-end check"); err != nil {
		log.Fatalf("register company: %v", err)
	}
	if err := svc.SetCompanyVerified(ctx, "owner", "smoke-co", true); err != nil {
		log.Fatalf("verify company: %v", err)
	}
	if _, err := svc.RegisterStudent(ctx, "smoke-st", "Smoke Student", []string{"go"}); err != nil {
		log.Fatalf("register student: %v", err)
	}

	task, err := svc.CreateTask(ctx, "smoke-co", market.CreateTaskInput{
		Title:       "Smoke task",
		Description: "exercise the full lifecycle",
		Reward:      1_000,
		Deadline:    time.Now().UTC().Add(24 * time.Hour),
	})
	if err != nil {
		log.Fatalf("create task: %v", err)
	}
	if _, err := svc.AcceptTask(ctx, "smoke-st", task.ID); err != nil {
		log.Fatalf("accept: %v", err)
	}
	if _, err := svc.SubmitTask(ctx, "smoke-st", task.ID, "smoke-ref"); err != nil {
		log.Fatalf("submit: %v", err)
	}
	done, err := svc.VerifyTask(ctx, "owner", task.ID, market.Scores{Quality: 90, Deadline: 90, Attitude: 90}, "smoke verification")
	if err != nil {
		log.Fatalf("verify: %v", err)
	}
	if done.Status != market.StatusCompleted {
		log.Fatalf("unexpected final status: %s", done.Status)
	}

	perf, err := led.GetBalance(ctx, "smoke-st", ledger.DefaultCurrency)
	if err != nil {
		log.Fatalf("performer balance: %v", err)
	}
	fee, err := led.GetBalance(ctx, "owner", ledger.DefaultCurrency)
	if err != nil {
		log.Fatalf("owner balance: %v", err)
	}
	if perf.Amount+fee.Amount != task.Reward {
		log.Fatalf("reward not conserved: performer=%d owner=%d reward=%d", perf.Amount, fee.Amount, task.Reward)
	}

	student, err := svc.GetStudent(ctx, "smoke-st")
	if err != nil {
		log.Fatalf("student profile: %v", err)
	}
	if student.Reputation <= 500 {
		log.Fatalf("reputation did not increase: %d", student.Reputation)
	}

	fmt.Printf("✅ marketplace smoke test passed: task=%d payout=%d fee=%d reputation=%d\n",
		task.ID, perf.Amount, fee.Amount, student.Reputation)
}
