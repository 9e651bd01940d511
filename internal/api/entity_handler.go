package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/hearth/internal/api/shared"
	"github.com/phrazzld/hearth/internal/platform/logger"
)

// Commands is the per-domain command API of the store: tasks, goals and
// penalties all satisfy it.
type Commands[F any, E any] interface {
	Add(ctx context.Context, fields F) (string, error)
	Update(ctx context.Context, id string, fields F) error
	Toggle(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
	Get(id string) (E, error)
	List() []E
}

// EntityHandler serves CRUD and toggle requests for one domain. Commands
// apply locally and return at once; the write reaches the remote store in
// the background.
type EntityHandler[F any, E any, R any] struct {
	name     string
	commands Commands[F, E]
	present  func(E) R
}

// NewEntityHandler creates an EntityHandler. name is used in log messages.
func NewEntityHandler[F any, E any, R any](name string, commands Commands[F, E], present func(E) R) *EntityHandler[F, E, R] {
	return &EntityHandler[F, E, R]{name: name, commands: commands, present: present}
}

// Routes mounts the handler's endpoints on r.
func (h *EntityHandler[F, E, R]) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Post("/{id}/toggle", h.Toggle)
	r.Delete("/{id}", h.Delete)
}

// List handles GET requests for the whole collection.
func (h *EntityHandler[F, E, R]) List(w http.ResponseWriter, r *http.Request) {
	entities := h.commands.List()
	items := make([]R, 0, len(entities))
	for _, e := range entities {
		items = append(items, h.present(e))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, newList(items))
}

// Get handles GET requests for one entity.
func (h *EntityHandler[F, E, R]) Get(w http.ResponseWriter, r *http.Request) {
	id, err := getPathID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	e, err := h.commands.Get(id)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, h.present(e))
}

// Create handles POST requests that add an entity.
func (h *EntityHandler[F, E, R]) Create(w http.ResponseWriter, r *http.Request) {
	fields, ok := h.decode(w, r)
	if !ok {
		return
	}
	id, err := h.commands.Add(r.Context(), fields)
	if err != nil {
		h.fail(w, r, "create", "", err)
		return
	}
	logger.FromContextOrDefault(r.Context(), slog.Default()).
		Debug(h.name+" created", slog.String("id", id))
	shared.RespondWithJSON(w, r, http.StatusCreated, CreatedResponse{ID: id})
}

// Update handles PUT requests that replace an entity's editable fields.
func (h *EntityHandler[F, E, R]) Update(w http.ResponseWriter, r *http.Request) {
	_, id, ok := handleActorAndPathID(w, r, "id")
	if !ok {
		return
	}
	fields, ok := h.decode(w, r)
	if !ok {
		return
	}
	if err := h.commands.Update(r.Context(), id, fields); err != nil {
		h.fail(w, r, "update", id, err)
		return
	}
	h.respondCurrent(w, r, id)
}

// Toggle handles POST requests that flip an entity's completion state.
func (h *EntityHandler[F, E, R]) Toggle(w http.ResponseWriter, r *http.Request) {
	_, id, ok := handleActorAndPathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.commands.Toggle(r.Context(), id); err != nil {
		h.fail(w, r, "toggle", id, err)
		return
	}
	h.respondCurrent(w, r, id)
}

// Delete handles DELETE requests.
func (h *EntityHandler[F, E, R]) Delete(w http.ResponseWriter, r *http.Request) {
	_, id, ok := handleActorAndPathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.commands.Remove(r.Context(), id); err != nil {
		h.fail(w, r, "delete", id, err)
		return
	}
	shared.RespondNoContent(w)
}

func (h *EntityHandler[F, E, R]) decode(w http.ResponseWriter, r *http.Request) (F, bool) {
	var fields F
	if err := shared.DecodeJSON(w, r, &fields); err != nil {
		HandleAPIError(w, r, errors.Join(ErrInvalidRequest, err), "")
		return fields, false
	}
	return fields, true
}

// respondCurrent writes the entity as it is after a command. A concurrent
// remote delete can remove it in between.
func (h *EntityHandler[F, E, R]) respondCurrent(w http.ResponseWriter, r *http.Request, id string) {
	e, err := h.commands.Get(id)
	if err != nil {
		shared.RespondNoContent(w)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, h.present(e))
}

func (h *EntityHandler[F, E, R]) fail(w http.ResponseWriter, r *http.Request, op, id string, err error) {
	logger.FromContextOrDefault(r.Context(), slog.Default()).Debug(h.name+" command rejected",
		slog.String("op", op),
		slog.String("id", id))
	HandleAPIError(w, r, err, "")
}
