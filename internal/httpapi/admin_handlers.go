package httpapi

import (
	"net/http"
	"strings"
	"time"

	"unitask.org/internal/market"
)

type moderatorRequest struct {
	ID string `json:"id"`
}

// securityConfigBody is the wire form of market.SecurityConfig; the
// cooldown travels as whole seconds.
type securityConfigBody struct {
	MinReward                int64 `json:"min_reward"`
	MaxReward                int64 `json:"max_reward"`
	CooldownSeconds          int64 `json:"cooldown_seconds"`
	MaxActiveTasksPerStudent int   `json:"max_active_tasks_per_student"`
	MaxActiveTasksPerCompany int   `json:"max_active_tasks_per_company"`
	PlatformFeePercent       int64 `json:"platform_fee_percent"`
}

func toConfigBody(cfg market.SecurityConfig) securityConfigBody {
	return securityConfigBody{
		MinReward:                cfg.MinReward,
		MaxReward:                cfg.MaxReward,
		CooldownSeconds:          int64(cfg.CooldownPeriod / time.Second),
		MaxActiveTasksPerStudent: cfg.MaxActiveTasksPerStudent,
		MaxActiveTasksPerCompany: cfg.MaxActiveTasksPerCompany,
		PlatformFeePercent:       cfg.PlatformFeePercent,
	}
}

func (b securityConfigBody) toConfig() market.SecurityConfig {
	return market.SecurityConfig{
		MinReward:                b.MinReward,
		MaxReward:                b.MaxReward,
		CooldownPeriod:           time.Duration(b.CooldownSeconds) * time.Second,
		MaxActiveTasksPerStudent: b.MaxActiveTasksPerStudent,
		MaxActiveTasksPerCompany: b.MaxActiveTasksPerCompany,
		PlatformFeePercent:       b.PlatformFeePercent,
	}
}

func (a *API) handleAdmin(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/admin/")
	switch {
	case path == "moderators":
		a.handleModerators(w, r)
	case strings.HasPrefix(path, "moderators/"):
		a.handleModeratorResource(w, r, strings.TrimPrefix(path, "moderators/"))
	case path == "pause":
		a.toggleGuard(w, r, "pause")
	case path == "unpause":
		a.toggleGuard(w, r, "unpause")
	case path == "emergency/activate":
		a.toggleGuard(w, r, "stop")
	case path == "emergency/deactivate":
		a.toggleGuard(w, r, "resume")
	case path == "security":
		a.handleSecurityConfig(w, r)
	case path == "status":
		a.handleGuardStatus(w, r)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleModerators(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"owner":      a.market.Owner(),
			"moderators": a.market.Moderators(),
		})
	case http.MethodPost:
		user, ok := caller(w, r)
		if !ok {
			return
		}
		var req moderatorRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.market.AddModerator(r.Context(), user, req.ID); err != nil {
			handleMarketError(w, r, err)
			return
		}
		a.auditEvent(r, "market.moderator.add", map[string]any{"moderator": req.ID})
		writeJSON(w, http.StatusCreated, map[string]any{"id": req.ID})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleModeratorResource(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	user, ok := caller(w, r)
	if !ok {
		return
	}
	if err := a.market.RemoveModerator(r.Context(), user, id); err != nil {
		handleMarketError(w, r, err)
		return
	}
	a.auditEvent(r, "market.moderator.remove", map[string]any{"moderator": id})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) toggleGuard(w http.ResponseWriter, r *http.Request, action string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	user, ok := caller(w, r)
	if !ok {
		return
	}
	var err error
	switch action {
	case "pause":
		err = a.market.Pause(r.Context(), user)
	case "unpause":
		err = a.market.Unpause(r.Context(), user)
	case "stop":
		err = a.market.ActivateEmergencyStop(r.Context(), user)
	case "resume":
		err = a.market.DeactivateEmergencyStop(r.Context(), user)
	}
	if err != nil {
		handleMarketError(w, r, err)
		return
	}
	a.auditEvent(r, "market.guard."+action, nil)
	a.handleGuardStatusBody(w)
}

func (a *API) handleGuardStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	a.handleGuardStatusBody(w)
}

func (a *API) handleGuardStatusBody(w http.ResponseWriter) {
	paused, stopped := a.market.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"paused":         paused,
		"emergency_stop": stopped,
	})
}

func (a *API) handleSecurityConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, toConfigBody(a.market.SecurityConfig()))
	case http.MethodPut:
		user, ok := caller(w, r)
		if !ok {
			return
		}
		var body securityConfigBody
		if err := decodeJSON(w, r, &body); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.market.UpdateSecurityConfig(r.Context(), user, body.toConfig()); err != nil {
			handleMarketError(w, r, err)
			return
		}
		a.auditEvent(r, "market.security.update", map[string]any{
			"min_reward":       body.MinReward,
			"max_reward":       body.MaxReward,
			"cooldown_seconds": body.CooldownSeconds,
			"fee_percent":      body.PlatformFeePercent,
		})
		writeJSON(w, http.StatusOK, toConfigBody(a.market.SecurityConfig()))
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}
