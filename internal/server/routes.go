// Package server wires HTTP handlers into a ServeMux for the livechat
// gateway via routing helpers.
package server

import "net/http"

// Routes returns a ServeMux with all gateway routes. The dev login route is
// only mounted when enabled in the configuration.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", HealthHandler)
	mux.HandleFunc("/health", HealthHandler)
	mux.HandleFunc("/ws", s.WebSocketHandler)
	mux.HandleFunc("/test", s.TestPageHandler)
	mux.HandleFunc("/auth/logout", s.LogoutHandler)
	if s.cfg.DevLogin {
		mux.HandleFunc("/auth/dev-login", s.DevLoginHandler)
	}
	return mux
}
