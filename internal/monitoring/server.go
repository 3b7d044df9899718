package monitoring

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes Reader over HTTP: a plain snapshot surface, not a REST API
// with auth/rate-limiting/versioning — those concerns belong to the
// publishing-facing surface this was adapted from, not to a monitoring
// collaborator reading tracking rows.
type Server struct {
	reader *Reader
	logger *slog.Logger
	router *mux.Router
}

// NewServer builds the HTTP handler tree: GET /healthz, GET /snapshot (all
// tables), GET /snapshot/{table} (one table), GET /metrics (the
// internal/metrics Prometheus collectors).
func NewServer(reader *Reader, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{reader: reader, logger: logger, router: mux.NewRouter()}
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/snapshot", s.handleSnapshotAll).Methods(http.MethodGet)
	s.router.HandleFunc("/snapshot/{table}", s.handleSnapshotTable).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return s
}

// Handler returns the http.Handler to mount on an *http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleSnapshotAll(w http.ResponseWriter, r *http.Request) {
	snapshots := s.reader.All(r.Context())
	writeJSON(w, http.StatusOK, snapshots)
}

func (s *Server) handleSnapshotTable(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["table"]
	snapshot, err := s.reader.Table(r.Context(), name)
	if err != nil {
		if errors.Is(err, ErrUnknownTable) {
			http.Error(w, "unknown table: "+name, http.StatusNotFound)
			return
		}
		s.logger.Error("monitoring: snapshot lookup failed", "table", name, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("monitoring: failed to encode response", "error", err)
	}
}
