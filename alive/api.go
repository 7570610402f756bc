package alive

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/moa-lab/phishing-alive-measurement/idgen"
	"github.com/moa-lab/phishing-alive-measurement/shield"
)

const (
	defaultPendingLimit = 100
	maxPendingLimit     = 10000
)

// Routes returns the read-only status API.
func (svc *Service) Routes() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.APIStack(svc.logger, 20, 40) {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
			st, err := svc.Stats(r.Context())
			if err != nil {
				shield.GetLogger(r.Context()).Error("alive: stats", "error", err)
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, st)
		})

		r.Get("/pending", func(w http.ResponseWriter, r *http.Request) {
			limit := min(queryInt(r, "limit", defaultPendingLimit), maxPendingLimit)
			if limit <= 0 {
				limit = defaultPendingLimit
			}
			items, err := svc.Pending(r.Context(), limit)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
		})

		r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
			id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
			if err != nil || id <= 0 {
				writeError(w, http.StatusBadRequest, errors.New("invalid id"))
				return
			}
			rec, err := svc.Item(r.Context(), id)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			if rec == nil {
				writeError(w, http.StatusNotFound, errors.New("not found"))
				return
			}
			writeJSON(w, http.StatusOK, rec)
		})

		r.Get("/runs/{runID}/metrics", func(w http.ResponseWriter, r *http.Request) {
			runID := chi.URLParam(r, "runID")
			started, ok := idgen.RunStarted(runID)
			if !ok {
				writeError(w, http.StatusBadRequest, errors.New("invalid run id"))
				return
			}
			ms, err := svc.RunMetrics(r.Context(), runID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "started": started, "metrics": ms, "count": len(ms)})
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
