package server

import (
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	// Body is the payload of every successful response.
	Body = "Hello world"
	// DiagnosticLine is printed to stdout before each response is sent.
	DiagnosticLine = "Handling request"
)

var helloResp = []byte(Body)

// HelloHandler answers any request it is routed with 200 and Body. Path,
// headers and request body are ignored.
func HelloHandler(stdout io.Writer) http.HandlerFunc {
	out := &lockedWriter{w: stdout}
	return func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(out, DiagnosticLine)
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(helloResp); err != nil {
			log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("write response")
		}
	}
}

// NewHandler serves HelloHandler for GET and HEAD on every path, taken
// as-is with no cleaning or redirects. Other methods get 405.
func NewHandler(stdout io.Writer) http.Handler {
	return MethodGuard(HelloHandler(stdout), http.MethodGet, http.MethodHead)
}

// MethodGuard passes requests with an allowed method to next and answers
// the rest with 405 and an Allow header.
func MethodGuard(next http.Handler, methods ...string) http.Handler {
	allow := strings.Join(methods, ", ")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !slices.Contains(methods, r.Method) {
			w.Header().Set("Allow", allow)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// lockedWriter serializes writes so diagnostic lines from concurrent
// connections never interleave.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
