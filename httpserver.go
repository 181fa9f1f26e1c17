package waitingroom

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/antoinedelia/waiting-room/pkg/statestore"
	"github.com/antoinedelia/waiting-room/pkg/wrlog"
)

// Server is the thin JSON surface over the frontend service: POST /join
// and GET /status, plus a health probe.
type Server struct {
	frontend *FrontendService
}

func NewServer(frontend *FrontendService) *Server {
	return &Server{frontend: frontend}
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/join", s.handleJoin).Methods(http.MethodPost)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Use(requestLogging)
	return cors.Default().Handler(r)
}

type joinResponse struct {
	Token  string `json:"token,omitempty"`
	Status string `json:"status,omitempty"`
}

type statusResponse struct {
	Status   string  `json:"status"`
	Position *uint64 `json:"position,omitempty"`
	Pass     string  `json:"jwt,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	result, err := s.frontend.JoinQueue(r.Context())
	if err != nil {
		wrlog.Errorf("join failed: %+v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "An internal error occurred."})
		return
	}
	if result.DirectAccess {
		writeJSON(w, http.StatusOK, joinResponse{Status: "DIRECT_ACCESS"})
		return
	}
	writeJSON(w, http.StatusOK, joinResponse{Token: result.Token})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	result, err := s.frontend.CheckStatus(r.Context(), token)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidToken):
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Token is required."})
		case errors.Is(err, ErrTokenNotFound):
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "Token not found or expired."})
		default:
			wrlog.Errorf("status check failed: %+v", err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "An internal error occurred."})
		}
		return
	}
	resp := statusResponse{Status: string(result.Status)}
	switch result.Status {
	case statestore.StatusAllowed:
		resp.Pass = result.Pass
	case statestore.StatusWaiting:
		position := result.Position
		resp.Position = &position
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		wrlog.Errorf("failed to encode response: %+v", err)
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		wrlog.Infof("%s %s -> %d (%s)", r.Method, r.URL.Path, wrapped.statusCode, time.Since(start))
	})
}
