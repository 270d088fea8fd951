package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	hpprof "net/http/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"loggerbot/internal/delivery"
	"loggerbot/internal/format"
	"loggerbot/internal/reporter"
	rtsup "loggerbot/internal/runtime/supervisor"
	"loggerbot/internal/storage"
	logx "loggerbot/pkg/logx"
)

const (
	defaultRecent = 50
	maxRecent     = 512
)

// Submitter is satisfied by *reporter.Service.
type Submitter interface {
	Log(ctx context.Context, e reporter.Entry) (string, error)
}

// Deps are the components the endpoints read from. Only Reporter and Stats
// are required.
type Deps struct {
	Reporter Submitter
	Stats    func() delivery.Stats
	Store    storage.Store
	Loops    func() []rtsup.LoopStats
	Metrics  http.Handler
	// Observe is called once per request with the route template.
	Observe func(route string, status int, took time.Duration)
}

type logRequest struct {
	Project          string `json:"project"`
	Level            string `json:"level"`
	Text             string `json:"text"`
	AttachmentName   string `json:"attachment_name,omitempty"`
	AttachmentBase64 string `json:"attachment_base64,omitempty"`
}

type statsResponse struct {
	Delivery delivery.Stats    `json:"delivery"`
	Loops    []rtsup.LoopStats `json:"loops,omitempty"`
}

func (s *Service) router(cfg Config) http.Handler {
	r := mux.NewRouter()
	r.Use(s.observe, withAuth(cfg.Token))

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/logs", s.handleLog(cfg.MaxBodyBytes)).Methods(http.MethodPost)
	v1.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	v1.HandleFunc("/deliveries", s.handleDeliveries).Methods(http.MethodGet)

	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics).Methods(http.MethodGet)
	}
	if cfg.Pprof {
		p := r.PathPrefix("/debug/pprof").Subrouter()
		p.HandleFunc("/cmdline", hpprof.Cmdline)
		p.HandleFunc("/profile", hpprof.Profile)
		p.HandleFunc("/symbol", hpprof.Symbol)
		p.HandleFunc("/trace", hpprof.Trace)
		p.PathPrefix("/").HandlerFunc(hpprof.Index)
	}
	return r
}

func (s *Service) handleLog(maxBody int64) http.HandlerFunc {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req logRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
			return
		}

		level, err := format.ParseLevel(req.Level)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		entry := reporter.Entry{Project: req.Project, Level: level, Text: req.Text}
		if req.AttachmentBase64 != "" || req.AttachmentName != "" {
			data, err := base64.StdEncoding.DecodeString(req.AttachmentBase64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "attachment_base64: "+err.Error())
				return
			}
			entry.Attachment = &delivery.Attachment{Name: req.AttachmentName, Data: data}
		}

		// Delivery outlives the request.
		id, err := s.deps.Reporter.Log(context.WithoutCancel(r.Context()), entry)
		switch {
		case err == nil:
			writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
		case errors.Is(err, reporter.ErrUnknownProject):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, delivery.ErrEmptyBody),
			errors.Is(err, delivery.ErrEmptyAttachment),
			errors.Is(err, delivery.ErrNoDestination):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.log.Warn("log submission failed", logx.String("project", req.Project), logx.Err(err))
			writeError(w, http.StatusInternalServerError, "submission failed")
		}
	}
}

func (s *Service) handleStats(w http.ResponseWriter, _ *http.Request) {
	var resp statsResponse
	if s.deps.Stats != nil {
		resp.Delivery = s.deps.Stats()
	}
	if s.deps.Loops != nil {
		resp.Loops = s.deps.Loops()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleDeliveries(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeError(w, http.StatusNotFound, "audit log is disabled")
		return
	}
	limit := defaultRecent
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRecent)
	}
	recs, err := s.deps.Store.Recent(r.Context(), limit)
	if err != nil {
		s.log.Warn("audit read failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "audit read failed")
		return
	}
	if recs == nil {
		recs = []storage.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
