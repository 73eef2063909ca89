// Package httpserver builds the process HTTP server from the runtime
// configuration.
package httpserver

import (
	"net/http"

	"registryd/internal/platform/config"
)

// New builds the registrar-facing server. Timeouts come from the Server
// config so slow-client limits are tunable per deployment.
func New(cfg config.Server, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}
