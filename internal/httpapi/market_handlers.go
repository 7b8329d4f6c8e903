package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"unitask.org/internal/audit"
	"unitask.org/internal/auth"
	"unitask.org/internal/market"
)

type registerCompanyRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type registerStudentRequest struct {
	Name   string   `json:"name"`
	Skills []string `json:"skills"`
}

type verifyCompanyRequest struct {
	Verified bool `json:"verified"`
}

type createTaskRequest struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Reward      int64     `json:"reward"`
	Deadline    time.Time `json:"deadline"`
}

type submitTaskRequest struct {
	SubmissionRef string `json:"submission_ref"`
}

type verifyTaskRequest struct {
	Quality  int    `json:"quality"`
	Deadline int    `json:"deadline"`
	Attitude int    `json:"attitude"`
	Feedback string `json:"feedback"`
}

type listTasksResponse struct {
	Items     []market.Task `json:"items"`
	NextAfter int64         `json:"next_after"`
}

// caller returns the authenticated identity. withAuth guarantees it on
// protected routes; the check covers direct handler use in tests.
func caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		w.Header().Set("WWW-Authenticate", `Bearer realm="unitask"`)
		respondError(w, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	return id, true
}

// --- Companies ---

func (a *API) handleCompaniesCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	user, ok := caller(w, r)
	if !ok {
		return
	}
	var req registerCompanyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	profile, err := a.market.RegisterCompany(r.Context(), user, req.Name, req.Description)
	if err != nil {
		handleMarketError(w, r, err)
		return
	}
	a.auditEvent(r, "market.company.register", map[string]any{"company": profile.ID})
	w.Header().Set("Location", "/v1/companies/"+profile.ID)
	writeJSON(w, http.StatusCreated, profile)
}

func (a *API) handleCompanyResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/companies/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if strings.HasSuffix(path, "/verify") {
		id := strings.TrimSuffix(strings.TrimSuffix(path, "/verify"), "/")
		if id == "" {
			writeError(w, r, http.StatusNotFound, "company not found")
			return
		}
		a.verifyCompany(w, r, id)
		return
	}

	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	profile, err := a.market.GetCompany(r.Context(), path)
	if err != nil {
		handleMarketError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (a *API) verifyCompany(w http.ResponseWriter, r *http.Request, companyID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	user, ok := caller(w, r)
	if !ok {
		return
	}
	req := verifyCompanyRequest{Verified: true}
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}
	if err := a.market.SetCompanyVerified(r.Context(), user, companyID, req.Verified); err != nil {
		handleMarketError(w, r, err)
		return
	}
	a.auditEvent(r, "market.company.verify", map[string]any{
		"company":  companyID,
		"verified": req.Verified,
	})
	writeJSON(w, http.StatusOK, map[string]any{"id": companyID, "verified": req.Verified})
}

// --- Students ---

func (a *API) handleStudentsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	user, ok := caller(w, r)
	if !ok {
		return
	}
	var req registerStudentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	profile, err := a.market.RegisterStudent(r.Context(), user, req.Name, req.Skills)
	if err != nil {
		handleMarketError(w, r, err)
		return
	}
	a.auditEvent(r, "market.student.register", map[string]any{"student": profile.ID})
	w.Header().Set("Location", "/v1/students/"+profile.ID)
	writeJSON(w, http.StatusCreated, profile)
}

func (a *API) handleStudentResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/students/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	profile, err := a.market.GetStudent(r.Context(), id)
	if err != nil {
		handleMarketError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// --- Tasks ---

func (a *API) handleTasksCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createTask(w, r)
	case http.MethodGet:
		a.listTasks(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) createTask(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	var req createTaskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	task, err := a.market.CreateTask(r.Context(), user, market.CreateTaskInput{
		Title:       req.Title,
		Description: req.Description,
		Reward:      req.Reward,
		Deadline:    req.Deadline,
	})
	if err != nil {
		handleMarketError(w, r, err)
		return
	}
	a.auditEvent(r, "market.task.create", map[string]any{
		"task":   task.ID,
		"reward": task.Reward,
	})
	w.Header().Set("Location", "/v1/tasks/"+strconv.FormatInt(task.ID, 10))
	writeJSON(w, http.StatusCreated, task)
}

func (a *API) listTasks(w http.ResponseWriter, r *http.Request) {
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var after int64
	if raw := strings.TrimSpace(r.URL.Query().Get("after")); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			writeError(w, r, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
		after = v
	}
	status := market.TaskStatus(strings.TrimSpace(r.URL.Query().Get("status")))

	items, next, err := a.market.ListTasks(r.Context(), status, limit, after)
	if err != nil {
		handleMarketError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listTasksResponse{Items: items, NextAfter: next})
}

func (a *API) handleTaskResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/tasks/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	idPart, action, _ := strings.Cut(path, "/")
	taskID, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || taskID <= 0 {
		writeError(w, r, http.StatusNotFound, "task not found")
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		task, err := a.market.GetTask(r.Context(), taskID)
		if err != nil {
			handleMarketError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, task)
	case "accept":
		a.acceptTask(w, r, taskID)
	case "submit":
		a.submitTask(w, r, taskID)
	case "verify":
		a.verifyTask(w, r, taskID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) acceptTask(w http.ResponseWriter, r *http.Request, taskID int64) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	user, ok := caller(w, r)
	if !ok {
		return
	}
	task, err := a.market.AcceptTask(r.Context(), user, taskID)
	if err != nil {
		handleMarketError(w, r, err)
		return
	}
	a.auditEvent(r, "market.task.accept", map[string]any{"task": taskID})
	writeJSON(w, http.StatusOK, task)
}

func (a *API) submitTask(w http.ResponseWriter, r *http.Request, taskID int64) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	user, ok := caller(w, r)
	if !ok {
		return
	}
	var req submitTaskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	task, err := a.market.SubmitTask(r.Context(), user, taskID, req.SubmissionRef)
	if err != nil {
		handleMarketError(w, r, err)
		return
	}
	a.auditEvent(r, "market.task.submit", map[string]any{"task": taskID})
	writeJSON(w, http.StatusOK, task)
}

func (a *API) verifyTask(w http.ResponseWriter, r *http.Request, taskID int64) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	user, ok := caller(w, r)
	if !ok {
		return
	}
	var req verifyTaskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	task, err := a.market.VerifyTask(r.Context(), user, taskID, market.Scores{
		Quality:  req.Quality,
		Deadline: req.Deadline,
		Attitude: req.Attitude,
	}, req.Feedback)
	if err != nil {
		handleMarketError(w, r, err)
		return
	}
	a.auditEvent(r, "market.task.verify", map[string]any{
		"task":      taskID,
		"performer": task.Performer,
		"reward":    task.Reward,
	})
	writeJSON(w, http.StatusOK, task)
}

func (a *API) auditEvent(r *http.Request, event string, fields map[string]any) {
	_ = audit.LogEvent(r.Context(), event, fields)
}
