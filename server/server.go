package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/joho/godotenv"
	"golang.ngrok.com/ngrok"
	"golang.ngrok.com/ngrok/config"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// DefaultAddr is all interfaces, port 58000.
const DefaultAddr = "0.0.0.0:58000"

// Server owns the bound listener and the HTTP server answering on it.
type Server struct {
	options ServerOptions
	handler http.Handler
	http    *http.Server

	mu     sync.Mutex
	ln     net.Listener
	tunnel ngrok.Tunnel
	ctx    context.Context
}

// NewServer fills in DefaultAddr and os.Stdout where options leave them empty.
func NewServer(options ServerOptions) *Server {
	if options.Addr == "" {
		options.Addr = DefaultAddr
	}
	if options.Stdout == nil {
		options.Stdout = os.Stdout
	}
	handler := h2c.NewHandler(LoggerMiddleware(NewHandler(options.Stdout)), &http2.Server{})
	return &Server{
		options: options,
		handler: handler,
		http:    &http.Server{Handler: handler},
		ctx:     context.Background(),
	}
}

// Listen binds the TCP socket. Callers treat an error as fatal.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return errors.New("server already listening")
	}
	ln, err := net.Listen("tcp", s.options.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.options.Addr, err)
	}
	s.ln = ln
	log.Info().Str("addr", ln.Addr().String()).Msg("listening")
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts connections until the listener fails. Each connection is
// handled on its own goroutine by net/http.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return errors.New("server not listening")
	}

	if s.options.UseNgrok {
		if err := s.startTunnel(); err != nil {
			return err
		}
	}

	err := s.http.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Start binds and serves forever.
func (s *Server) Start() error {
	log.Debug().Interface("options", s.options).Msg("Starting server")
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Close stops accepting connections. Used by tests; the binary itself
// runs until the process is killed.
func (s *Server) Close() error {
	s.mu.Lock()
	tunnel := s.tunnel
	s.mu.Unlock()
	if tunnel != nil {
		tunnel.Close()
	}
	return s.http.Close()
}

func (s *Server) startTunnel() error {
	tunnel, err := ngrok.Listen(s.ctx,
		config.HTTPEndpoint(config.WithDomain(s.options.NgrokDomain)),
		ngrok.WithAuthtokenFromEnv(),
	)
	if err != nil {
		return fmt.Errorf("failed to start ngrok listener: %w", err)
	}
	s.mu.Lock()
	s.tunnel = tunnel
	s.mu.Unlock()

	go func() {
		log.Info().Msgf("ngrok tunnel established at: %s", tunnel.URL())
		if err := http.Serve(tunnel, s.handler); err != nil {
			log.Error().Err(err).Msg("ngrok server stopped")
		}
	}()
	return nil
}

// ServerOptions holds server configuration.
type ServerOptions struct {
	Addr        string
	UseNgrok    bool
	NgrokDomain string
	Stdout      io.Writer `json:"-"`
}

// NewServerOptions reads the optional .env file and the process
// environment. The listen address is always DefaultAddr.
func NewServerOptions() ServerOptions {
	myEnv, err := godotenv.Read()
	if err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
		myEnv = map[string]string{}
	}
	for _, key := range []string{"NGROK_ENABLED", "NGROK_DOMAIN"} {
		if v, ok := os.LookupEnv(key); ok {
			myEnv[key] = v
		}
	}
	return ServerOptionsFromEnv(myEnv)
}

// ServerOptionsFromEnv enables ngrok only when NGROK_ENABLED is "true" and
// NGROK_DOMAIN is set.
func ServerOptionsFromEnv(env map[string]string) ServerOptions {
	ngrokDomain := env["NGROK_DOMAIN"]
	useNgrok := env["NGROK_ENABLED"] == "true" && ngrokDomain != ""

	return ServerOptions{
		Addr:        DefaultAddr,
		UseNgrok:    useNgrok,
		NgrokDomain: ngrokDomain,
	}
}
