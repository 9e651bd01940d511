package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/hearth/internal/api/middleware"
	"github.com/phrazzld/hearth/internal/domain"
	"github.com/phrazzld/hearth/internal/engine"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	Logger *slog.Logger

	// DefaultUser acts for requests without an X-Hearth-User header.
	// Empty means the header is required.
	DefaultUser string
}

// NewRouter builds the HTTP handler for e. stream serves the websocket
// event feed; the caller closes it on shutdown.
func NewRouter(e *engine.Engine, stream *EventStream, opts RouterOptions) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	tasks := NewEntityHandler[domain.TaskFields, domain.Task]("task", e.Store.Tasks, presentTask)
	goals := NewEntityHandler[domain.GoalFields, domain.Goal]("goal", e.Store.Goals, presentGoal)
	penalties := NewEntityHandler[domain.PenaltyFields, domain.Penalty]("penalty", e.Store.Penalties, presentPenalty)
	engineHandler := NewEngineHandler(e)
	actor := middleware.NewActorMiddleware(opts.DefaultUser)

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewTraceMiddleware(opts.Logger))
	r.Use(middleware.AccessLog)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", engineHandler.Health)

	r.Route("/api", func(r chi.Router) {
		r.Use(actor.Identify)

		r.Route("/tasks", tasks.Routes)
		r.Route("/goals", goals.Routes)
		r.Route("/penalties", penalties.Routes)

		r.Route("/achievements", func(r chi.Router) {
			r.Get("/", engineHandler.ListAchievements)
			r.Get("/progress", engineHandler.Progress)
			r.Get("/{id}", engineHandler.GetAchievement)
			r.Delete("/{id}", engineHandler.RevokeAchievement)
		})

		r.Get("/status", engineHandler.Status)
		r.Post("/sync/flush", engineHandler.Flush)
		r.Get("/analytics", engineHandler.Analytics)
		r.Post("/session/signout", engineHandler.SignOut)
		r.Method(http.MethodGet, "/events", stream)
	})

	return r
}
