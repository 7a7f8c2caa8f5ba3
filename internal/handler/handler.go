package handler

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/mathbench/internal/catalog"
	"github.com/pavelanni/mathbench/internal/handler/views"
	appI18n "github.com/pavelanni/mathbench/internal/i18n"
	"github.com/pavelanni/mathbench/internal/model"
	"github.com/pavelanni/mathbench/internal/store"
)

// Config holds results browser settings.
type Config struct {
	// BasePath is a URL prefix for sub-path deployments, without a
	// trailing slash.
	BasePath string
	// ResultsDir is scanned by the reindex action.
	ResultsDir string
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store  *store.Store
	config Config
}

// New creates a new Handler.
func New(s *store.Store, cfg Config) *Handler {
	return &Handler{store: s, config: cfg}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(h.requireViewer)
		r.Get("/", h.handleIndex)
		r.Get("/evaluations/{id}", h.handleEvaluation)
		r.Get("/evaluations/{id}/raw", h.handleRawResult)
		r.With(requireSameOrigin).Post("/admin/reindex", h.handleReindex)
	})
}

func (h *Handler) path(p string) string {
	return h.config.BasePath + p
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.EvaluationFilter{
		Model:   q.Get("model"),
		Profile: q.Get("profile"),
	}
	if g := q.Get("group"); g != "" {
		n, err := strconv.Atoi(g)
		if err != nil || !model.PromptGroup(n).Valid() {
			http.Error(w, "invalid group", http.StatusBadRequest)
			return
		}
		filter.Group = model.PromptGroup(n)
	}

	evals, err := h.store.ListEvaluations(filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	models, err := h.store.Models()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	lastRun, err := h.store.GetRunInfo()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	data := views.IndexData{
		BasePath:    h.config.BasePath,
		Evaluations: evals,
		Models:      models,
		Profiles:    catalog.ProfileIDs(),
		Filter:      filter,
		LastRun:     lastRun,
	}
	if n, err := strconv.Atoi(q.Get("reindexed")); err == nil {
		data.Notice = appI18n.Tp(r.Context(), "ReindexedFiles", n)
	}
	h.render(w, r, appI18n.T(r.Context(), "Evaluations"), views.IndexPage(data))
}

func (h *Handler) handleEvaluation(w http.ResponseWriter, r *http.Request) {
	e, ok := h.lookup(w, r)
	if !ok {
		return
	}

	data := views.DetailData{BasePath: h.config.BasePath, Evaluation: e}
	res, err := readResult(e.FilePath)
	if err != nil {
		slog.Debug("result file unavailable", "path", e.FilePath, "error", err)
		data.FileMissing = true
	} else {
		data.Result = res
	}
	h.render(w, r, e.Model+" / "+e.QuestionID, views.DetailPage(data))
}

func (h *Handler) handleRawResult(w http.ResponseWriter, r *http.Request) {
	e, ok := h.lookup(w, r)
	if !ok {
		return
	}
	data, err := os.ReadFile(e.FilePath)
	if err != nil {
		http.Error(w, "result file not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_, _ = w.Write(data)
}

// lookup resolves the {id} URL parameter. It writes the error response
// and returns false when the evaluation cannot be found.
func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (model.StoredEvaluation, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid evaluation ID", http.StatusBadRequest)
		return model.StoredEvaluation{}, false
	}
	e, err := h.store.GetEvaluation(id)
	if errors.Is(err, sql.ErrNoRows) {
		http.NotFound(w, r)
		return e, false
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return e, false
	}
	return e, true
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, title string, body templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.Layout(title, body).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

func readResult(path string) (*model.EvaluationResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var res model.EvaluationResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
