package httpserver

import (
	"net/http"
	"time"
)

// New builds the ledger API server. Requests and responses are small
// JSON payloads; the timeouts assume no streaming endpoints.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       time.Minute,
	}
}
