package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/ptgott/one-calendar/feed"
	"github.com/ptgott/one-calendar/userconfig"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// Event uploads larger than this are rejected
const maxBodyBytes = 1 << 20

const shutdownTimeout = 10 * time.Second

// Server publishes a feed.Store over HTTP. It is the only user of the Store
// while it runs and serializes every call to it.
type Server struct {
	mu      sync.Mutex
	store   *feed.Store
	handler http.Handler
}

// New wraps store in an HTTP handler with CORS and access logging.
func New(store *feed.Store, conf userconfig.Server, logger zerolog.Logger) *Server {
	s := &Server{store: store}

	r := mux.NewRouter()
	r.HandleFunc("/calendar.ics", s.handleCalendar).Methods(http.MethodGet)
	r.HandleFunc("/events", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/events", s.handleAdd).Methods(http.MethodPost)
	r.HandleFunc("/events", s.handleClear).Methods(http.MethodDelete)
	r.HandleFunc("/events/{id}", s.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/events/{id}", s.handleRemove).Methods(http.MethodDelete)
	r.Use(recoveryMiddleware)

	c := cors.New(cors.Options{
		AllowedOrigins: conf.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type"},
	})

	var h http.Handler = c.Handler(r)
	h = hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("url", r.URL.String()).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("")
	})(h)
	h = hlog.RemoteAddrHandler("ip")(h)
	h = hlog.RequestIDHandler("req_id", "X-Request-Id")(h)
	h = hlog.NewHandler(logger)(h)
	s.handler = h

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	}
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	doc, err := s.store.Serialize()
	s.mu.Unlock()
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(doc))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	events := s.store.GetAll()
	s.mu.Unlock()

	respondWithJSON(w, r, http.StatusOK, events)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.Lock()
	e, ok := s.store.Get(id)
	s.mu.Unlock()
	if !ok {
		respondWithMessage(w, r, http.StatusNotFound, "no such event")
		return
	}

	respondWithJSON(w, r, http.StatusOK, e)
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	events, err := feed.DecodeEvents(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondWithMessage(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if len(events) == 0 {
		respondWithMessage(w, r, http.StatusBadRequest, "the request contains no events")
		return
	}

	s.mu.Lock()
	err = s.store.Add(r.Context(), events...)
	s.mu.Unlock()
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	respondWithJSON(w, r, http.StatusCreated, events)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.Lock()
	ok, err := s.store.Remove(r.Context(), id)
	s.mu.Unlock()
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if !ok {
		respondWithMessage(w, r, http.StatusNotFound, "no such event")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	res, err := s.store.RemoveAll(r.Context())
	s.mu.Unlock()
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	respondWithJSON(w, r, http.StatusOK, clearResponse{Removed: res.Mutations})
}

type clearResponse struct {
	Removed int `json:"removed"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps Store errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, feed.ErrDuplicateEvent):
		return http.StatusConflict
	case errors.Is(err, feed.ErrInvalidEvent):
		return http.StatusBadRequest
	case errors.Is(err, feed.ErrInvalidState):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Msg("can't handle the request")
		respondWithMessage(w, r, code, http.StatusText(code))
		return
	}
	respondWithMessage(w, r, code, err.Error())
}

func respondWithMessage(w http.ResponseWriter, r *http.Request, code int, msg string) {
	respondWithJSON(w, r, code, errorResponse{Error: msg})
}

func respondWithJSON(w http.ResponseWriter, r *http.Request, code int, payload interface{}) {
	b, err := json.Marshal(payload)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("can't encode the response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(b)
}

// recoveryMiddleware turns a panicking handler into a 500
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				hlog.FromRequest(r).Error().Interface("panic", rec).Msg("recovered from a panic")
				respondWithMessage(w, r, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
