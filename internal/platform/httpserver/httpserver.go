package httpserver

import (
	"net/http"
	"time"
)

// New builds an HTTP server with sane defaults for this gateway. Signature
// flows are short request/response exchanges, so the write timeout stays
// tight; idle keep-alives from banking apps are allowed to linger.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
