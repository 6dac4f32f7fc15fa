// Package api is the HTTP backend: account and device registration, token
// authentication, stroke uploads and the LED toggle.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/srg/puttlab/internal/storage"
	"github.com/srg/puttlab/pkg/config"
)

const (
	userTokenName   = "API Token"
	deviceTokenName = "arduino-token"
	maxBodyBytes    = 1 << 20
)

// Server holds the handlers' dependencies.
type Server struct {
	store  *storage.Store
	cfg    config.ServerConfig
	logger *logrus.Logger
	router *mux.Router

	// bcryptCost is lowered in tests.
	bcryptCost int
}

func NewServer(store *storage.Store, cfg config.ServerConfig, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Server{
		store:      store,
		cfg:        cfg,
		logger:     logger,
		bcryptCost: defaultBcryptCost,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/user/register", s.handleRegisterUser).Methods(http.MethodPost)
	r.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/device/register", s.handleRegisterDevice).Methods(http.MethodPost)
	r.HandleFunc("/stroke/save", s.handleSaveStroke).Methods(http.MethodPost)
	r.HandleFunc("/led", s.handleLEDState).Methods(http.MethodGet)
	r.HandleFunc("/led", s.handleLEDSwitch).Methods(http.MethodPost)

	device := r.PathPrefix("/device").Subrouter()
	device.Use(s.requireToken(storage.OwnerDevice))
	device.HandleFunc("/cycle", s.handleDeviceCycle).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
	})
	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start),
		}).Info("HTTP request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.WithFields(logrus.Fields{
		"path":  r.URL.Path,
		"error": err,
	}).Error("Request failed")
	writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "Server Error"})
}
