package apiv1

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/louisbranch/bookshelf/internal/host"
	apperrors "github.com/louisbranch/bookshelf/internal/platform/errors"
	"github.com/louisbranch/bookshelf/internal/platform/httpx"
	"github.com/louisbranch/bookshelf/internal/platform/logging"
	"github.com/louisbranch/bookshelf/internal/platform/requestctx"
	"github.com/louisbranch/bookshelf/internal/ratelimit"
)

// SetupMessage confirms a database reset.
const SetupMessage = "Database has been setup successfully"

// SetupResponse is returned by the database reset endpoint.
type SetupResponse struct {
	Success bool   `json:"success"`
	Msg     string `json:"msg"`
}

// AdminRouter serves administrative operations.
func AdminRouter() http.Handler {
	r := chi.NewRouter()
	r.With(host.Limit("setup_database", ratelimit.High), host.RequireAdmin()).Post("/setup_database", setupDatabase)
	r.With(host.RequireAdmin()).Get("/registry", describeRegistry)
	return r
}

func setupDatabase(w http.ResponseWriter, r *http.Request) {
	env, ok := host.FromContext(r.Context())
	if !ok || env.Database == nil || env.Registry == nil {
		httpx.WriteError(w, r, apperrors.E(apperrors.KindUnavailable, "database is not available"))
		return
	}
	models := env.Registry.Models()
	if err := env.Database.Setup(r.Context(), models); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	logging.FromContext(r.Context()).Warn("database reset",
		"models", len(models),
		"subject", requestctx.SubjectFromContext(r.Context()),
	)
	_ = httpx.WriteJSON(w, http.StatusOK, SetupResponse{Success: true, Msg: SetupMessage})
}

func describeRegistry(w http.ResponseWriter, r *http.Request) {
	env, ok := host.FromContext(r.Context())
	if !ok || env.Registry == nil {
		httpx.WriteError(w, r, apperrors.E(apperrors.KindUnavailable, "service registry is not available"))
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, env.Registry.Describe())
}
