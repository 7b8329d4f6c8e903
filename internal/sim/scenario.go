package sim

import (
	"math/rand"
	"time"
)

// Company is a simulated issuer identity.
type Company struct {
	ID   string
	Name string
}

// Student is a simulated performer identity.
type Student struct {
	ID     string
	Name   string
	Skills []string
}

// TaskSpec is a task template drawn by the generator.
type TaskSpec struct {
	Title         string
	Description   string
	Reward        int64
	DeadlineHours int
}

// Assignment pairs a drawn task with its issuer and performer.
type Assignment struct {
	Company Company
	Student Student
	Task    TaskSpec
}

// Scores are drawn per verification; all dimensions sit in [60, 100]
// so simulated runs trend upward in reputation.
type Scores struct {
	Quality  int
	Deadline int
	Attitude int
}

type Scenario struct {
	Name      string
	Companies []Company
	Students  []Student
	Templates []TaskSpec
}

// CampusScenario models a small co-op marketplace: three companies
// posting engineering tasks to a pool of five students.
func CampusScenario() Scenario {
	return Scenario{
		Name: "CampusCoopFlow",
		Companies: []Company{
			{ID: "co-sim-001", Name: "Aurora Systems"},
			{ID: "co-sim-002", Name: "Baltic Data Works"},
			{ID: "co-sim-003", Name: "Cedar Robotics"},
		},
		Students: []Student{
			{ID: "st-sim-001", Name: "Riley Chen", Skills: []string{"go", "sql"}},
			{ID: "st-sim-002", Name: "Jordan Okafor", Skills: []string{"frontend", "design"}},
			{ID: "st-sim-003", Name: "Sasha Petrov", Skills: []string{"go", "kubernetes"}},
			{ID: "st-sim-004", Name: "Mina Haddad", Skills: []string{"data", "python"}},
			{ID: "st-sim-005", Name: "Theo Brandt", Skills: []string{"embedded", "c"}},
		},
		Templates: []TaskSpec{
			{Title: "Build ingestion pipeline", Description: "Stream CSV drops into the warehouse with retries", Reward: 5_000, DeadlineHours: 72},
			{Title: "Fix dashboard latency", Description: "Profile and cut p95 render time below 200ms", Reward: 2_500, DeadlineHours: 48},
			{Title: "Write integration tests", Description: "Cover the billing API error paths", Reward: 1_500, DeadlineHours: 24},
			{Title: "Prototype sensor firmware", Description: "Read the IMU over I2C and publish telemetry", Reward: 8_000, DeadlineHours: 120},
		},
	}
}

type Generator struct {
	scenario Scenario
	rnd      *rand.Rand
}

func NewGenerator(seed int64) Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return Generator{scenario: CampusScenario(), rnd: rand.New(rand.NewSource(seed))}
}

// NextAssignment draws a company, a distinct student and a task template.
func (g Generator) NextAssignment() Assignment {
	companies := g.scenario.Companies
	students := g.scenario.Students
	if len(companies) == 0 || len(students) == 0 {
		panic("scenario requires companies and students")
	}
	return Assignment{
		Company: companies[g.rnd.Intn(len(companies))],
		Student: students[g.rnd.Intn(len(students))],
		Task:    g.scenario.Templates[g.rnd.Intn(len(g.scenario.Templates))],
	}
}

// NextScores draws a verification outcome.
func (g Generator) NextScores() Scores {
	return Scores{
		Quality:  60 + g.rnd.Intn(41),
		Deadline: 60 + g.rnd.Intn(41),
		Attitude: 60 + g.rnd.Intn(41),
	}
}

func (g Generator) Companies() []Company {
	return append([]Company(nil), g.scenario.Companies...)
}

func (g Generator) Students() []Student {
	return append([]Student(nil), g.scenario.Students...)
}
