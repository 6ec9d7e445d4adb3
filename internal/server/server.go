// Package server provides the debug HTTP server for the virtual touchscreen:
// a health endpoint, an MJPEG stream of the pipeline masks and a WebSocket
// feed of tracked fingertips.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/joen0001/virtualtouch/internal/store"
)

// Config holds the server configuration. Nil fields disable the matching
// endpoints.
type Config struct {
	Store *store.Store
	Feed  *Feed
}

// Server represents the debug HTTP server.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time

	fingertips *FingertipHandler
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.Store != nil {
		s.mux.HandleFunc("/api/profiles", s.handleProfiles)
	}

	if s.config.Feed != nil {
		s.mux.Handle("/api/stream", NewStreamHandler(s.config.Feed))
	}

	s.fingertips = NewFingertipHandler()
	s.mux.Handle("/api/fingertips", s.fingertips)
}

// Fingertips returns the WebSocket fingertip feed, which the pipeline
// publishes into each frame.
func (s *Server) Fingertips() *FingertipHandler {
	return s.fingertips
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// handleProfiles handles GET requests to /api/profiles.
func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	profiles, err := s.config.Store.Profiles().List()
	if err != nil {
		http.Error(w, "Failed to list profiles", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(profiles); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s)
}
