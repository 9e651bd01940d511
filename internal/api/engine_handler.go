package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/phrazzld/hearth/internal/api/middleware"
	"github.com/phrazzld/hearth/internal/api/shared"
	"github.com/phrazzld/hearth/internal/engine"
)

// FlushTimeout bounds POST /api/sync/flush.
const FlushTimeout = 30 * time.Second

// EngineHandler serves sync status, analytics, achievements, sign-out and
// health requests.
type EngineHandler struct {
	engine *engine.Engine
}

// NewEngineHandler creates an EngineHandler.
func NewEngineHandler(e *engine.Engine) *EngineHandler {
	return &EngineHandler{engine: e}
}

// Status handles GET /api/status.
func (h *EngineHandler) Status(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, h.engine.SyncStatus())
}

// Flush handles POST /api/sync/flush: every ready operation is pushed and
// the resulting status returned.
func (h *EngineHandler) Flush(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), FlushTimeout)
	defer cancel()

	if err := h.engine.Flush(ctx); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		shared.RespondWithErrorAndLog(w, r, status, "Flush did not complete", err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, h.engine.SyncStatus())
}

// Analytics handles GET /api/analytics.
func (h *EngineHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, h.engine.Analytics.Snapshot())
}

// ListAchievements handles GET /api/achievements.
func (h *EngineHandler) ListAchievements(w http.ResponseWriter, r *http.Request) {
	awards := h.engine.Store.Achievements.List()
	items := make([]AwardResponse, 0, len(awards))
	for _, a := range awards {
		items = append(items, presentAward(a))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, newList(items))
}

// GetAchievement handles GET /api/achievements/{id}.
func (h *EngineHandler) GetAchievement(w http.ResponseWriter, r *http.Request) {
	id, err := getPathID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	award, err := h.engine.Store.Achievements.Get(id)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, presentAward(award))
}

// RevokeAchievement handles DELETE /api/achievements/{id}.
func (h *EngineHandler) RevokeAchievement(w http.ResponseWriter, r *http.Request) {
	_, id, ok := handleActorAndPathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.engine.Store.Achievements.Revoke(r.Context(), id); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondNoContent(w)
}

// Progress handles GET /api/achievements/progress. The user query
// parameter defaults to the acting user.
func (h *EngineHandler) Progress(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		user, _ = middleware.GetActor(r)
	}
	if user == "" || len(user) > maxIDLength {
		HandleAPIError(w, r, ErrInvalidRequest, "Invalid user")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, ProgressResponse{
		UserID:   user,
		Counters: h.engine.Achievements.Counts(user),
	})
}

// SignOut handles POST /api/session/signout: queued writes made by the
// acting user are discarded so nothing more is sent on their behalf.
func (h *EngineHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetActor(r)
	if !ok {
		HandleAPIError(w, r, ErrInvalidRequest, "User not identified")
		return
	}
	n := h.engine.SignOut(r.Context(), actor)
	shared.RespondWithJSON(w, r, http.StatusOK, SignOutResponse{UserID: actor, Voided: n})
}

// Health handles GET /health.
func (h *EngineHandler) Health(w http.ResponseWriter, r *http.Request) {
	st := h.engine.SyncStatus()
	status := "ok"
	if !st.Running {
		status = "stopped"
	}
	shared.RespondWithJSON(w, r, http.StatusOK, HealthResponse{Status: status, Running: st.Running})
}
