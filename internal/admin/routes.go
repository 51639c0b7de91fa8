package admin

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"durasched/internal/storage"
	logx "durasched/pkg/logx"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const maxBody = 1 << 20

type handler struct {
	jobs  Jobs
	tasks Tasks
	log   logx.Logger
}

func newRouter(jobs Jobs, tasks Tasks, cfg Config, log logx.Logger) http.Handler {
	h := &handler{jobs: jobs, tasks: tasks, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLog(log))
	r.Use(middleware.Heartbeat("/healthz"))
	r.Use(withAuth(cfg.Token))

	r.Get("/status", h.status)
	if tasks != nil {
		r.Get("/tasks", h.listTasks)
	}
	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.add)
		r.Delete("/", h.clean)
		r.Get("/{id}", h.get)
		r.Delete("/{id}", h.remove)
	})
	if cfg.Pprof {
		r.Mount("/debug", middleware.Profiler())
	}
	return r
}

func (h *handler) add(w http.ResponseWriter, r *http.Request) {
	var req AddRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.fail(w, r, errors.Mark(errors.Wrap(err, "decode request"), ErrBadRequest))
		return
	}
	if req.Delay != "" && req.At != nil {
		h.fail(w, r, errors.Wrap(ErrBadRequest, "delay and at are exclusive"))
		return
	}
	var delay time.Duration
	if req.Delay != "" {
		d, err := time.ParseDuration(strings.TrimSpace(req.Delay))
		if err != nil {
			h.fail(w, r, errors.Mark(errors.Wrap(err, "delay"), ErrBadRequest))
			return
		}
		delay = d
	}
	if len(bytes.TrimSpace(req.Args)) == 0 {
		req.Args = nil
	}

	var (
		job storage.Job
		err error
	)
	if req.At != nil {
		job, err = h.jobs.AddJobAt(r.Context(), req.ID, *req.At, req.Handler, req.Args)
	} else {
		job, err = h.jobs.AddJob(r.Context(), req.ID, delay, req.Handler, req.Args)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (h *handler) list(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobs.GetJobs(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *handler) get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	info, ok, err := h.jobs.GetJob(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !ok {
		h.fail(w, r, errors.Wrapf(ErrNotFound, "%q", id))
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *handler) remove(w http.ResponseWriter, r *http.Request) {
	if err := h.jobs.RemoveJob(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) clean(w http.ResponseWriter, r *http.Request) {
	if err := h.jobs.Clean(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.jobs.Snapshot())
}

func (h *handler) listTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.tasks())
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code, status := classify(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		h.log.Error("admin request failed",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.String("request_id", middleware.GetReqID(r.Context())),
			logx.Err(err),
		)
	}
	writeJSON(w, status, errorBody{
		Error: err.Error(),
		Code:  code,
		Hint:  strings.TrimSpace(errors.FlattenHints(err)),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestLog(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("admin request",
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", ww.Status()),
				logx.Duration("took", time.Since(start)),
				logx.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// withAuth accepts "Authorization: Bearer <token>" or ?token=<token>. An
// empty token disables the check.
func withAuth(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.URL.Query().Get("token")
			if got == "" {
				if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, "Bearer ") {
					got = strings.TrimSpace(strings.TrimPrefix(ah, "Bearer "))
				}
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(tok)) != 1 {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: ErrUnauthorized.Error(), Code: CodeUnauthorized})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
