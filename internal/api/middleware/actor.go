package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/phrazzld/hearth/internal/api/shared"
	"github.com/phrazzld/hearth/internal/domain"
	"github.com/phrazzld/hearth/internal/platform/logger"
)

// ActorHeader names the family member a request acts for.
const ActorHeader = "X-Hearth-User"

const maxActorLength = 64

// ActorMiddleware records the acting family member on the request context
// so commands are credited to them and their queued writes can be voided on
// sign-out. Identity is asserted by the caller; there is no authentication.
type ActorMiddleware struct {
	defaultUser string
}

// NewActorMiddleware creates an ActorMiddleware. defaultUser is used when a
// request carries no ActorHeader; if it is empty such requests are rejected.
func NewActorMiddleware(defaultUser string) *ActorMiddleware {
	return &ActorMiddleware{defaultUser: defaultUser}
}

// Identify reads ActorHeader and adds the actor to the request context.
func (m *ActorMiddleware) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := strings.TrimSpace(r.Header.Get(ActorHeader))
		if actor == "" {
			actor = m.defaultUser
		}
		if actor == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, ActorHeader+" header required")
			return
		}
		if len(actor) > maxActorLength {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid "+ActorHeader+" header")
			return
		}

		ctx := domain.WithActor(r.Context(), actor)
		log := logger.FromContextOrDefault(ctx, slog.Default()).With(slog.String("user_id", actor))
		ctx = logger.WithLogger(ctx, log)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetActor returns the actor recorded by Identify.
func GetActor(r *http.Request) (string, bool) {
	actor := domain.ActorFromContext(r.Context())
	return actor, actor != ""
}
