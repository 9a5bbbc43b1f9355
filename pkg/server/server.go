// Package server exposes the HTTP API for the dashboard: live status,
// settings, session history and the manual override control.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/alwayssunny/alwayssunny/pkg/log"
	"github.com/alwayssunny/alwayssunny/pkg/loop"
	"github.com/alwayssunny/alwayssunny/pkg/solar"
	"github.com/alwayssunny/alwayssunny/pkg/storage"
	"github.com/alwayssunny/alwayssunny/pkg/types"
	"github.com/alwayssunny/alwayssunny/pkg/vehicle"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/levenlabs/go-lflag"
)

const authTokenCookie = "auth_token"

type contextKey string

const (
	userContextKey           contextKey = "user"
	userToRegisterContextKey contextKey = "userToRegister"
)

// tokenVerifier is a function that validates a Google or Apple ID Token.
type tokenVerifier func(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)

// Server handles the HTTP API. All control decisions live in the loop; the
// server only reads projected state and writes settings.
type Server struct {
	storage   storage.Database
	loop      *loop.Loop
	inverters *solar.Map
	vehicles  *vehicle.Map

	listenAddr string
	devProxy   string
	httpServer *http.Server

	adminEmails   []string
	oidcAudiences map[string]string
	oidcVerifiers map[string]tokenVerifier
	bypassAuth    bool
	encryptionKey string
	serverName    string
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(s storage.Database, l *loop.Loop, inverters *solar.Map, vehicles *vehicle.Map) *Server {
	srv := &Server{
		storage:    s,
		loop:       l,
		inverters:  inverters,
		vehicles:   vehicles,
		serverName: "alwayssunny",
	}
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	devProxy := lflag.String("dev-proxy", "", "Address of the dev server (e.g. http://localhost:5173)")
	adminEmails := lflag.String("admin-emails", "", "comma-delimited list of email addresses allowed to update settings")
	oidcAudiences := map[string]string{}
	lflag.JSON(&oidcAudiences, "oidc-audiences", oidcAudiences, "JSON map of provider (google/apple) to audience/client ID")
	encryptionKey := lflag.RequiredString("credentials-encryption-key", "Key for encrypting credentials")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		srv.devProxy = *devProxy
		if *adminEmails != "" {
			srv.adminEmails = strings.Split(*adminEmails, ",")
			for i, email := range srv.adminEmails {
				srv.adminEmails[i] = strings.TrimSpace(email)
			}
		}
		if len(oidcAudiences) > 0 {
			srv.oidcAudiences = make(map[string]string, len(oidcAudiences))
			srv.oidcVerifiers = make(map[string]tokenVerifier, len(oidcAudiences))
			for n, a := range oidcAudiences {
				var issuer string
				switch n {
				case "google":
					issuer = "https://accounts.google.com"
				case "apple":
					issuer = "https://appleid.apple.com"
				default:
					log.Ctx(context.Background()).Error("unsupported oidc audience client", slog.String("client", n))
					os.Exit(1)
				}
				provider, err := oidc.NewProvider(context.Background(), issuer)
				if err != nil {
					log.Ctx(context.Background()).Error("failed to initialize OIDC provider",
						slog.String("client", n), slog.Any("error", err))
					os.Exit(1)
				}
				srv.oidcVerifiers[n] = provider.Verifier(&oidc.Config{ClientID: a}).Verify
				srv.oidcAudiences[n] = a
			}
		}

		if len(*encryptionKey) != 32 {
			log.Ctx(context.Background()).Error("credentials-encryption-key must be 32 characters")
			os.Exit(1)
		}
		srv.encryptionKey = *encryptionKey
		// The loop decrypts the same credential blobs; the flag is only
		// registered here.
		srv.loop.SetEncryptionKey(*encryptionKey)

		if srv.devProxy != "" && len(srv.oidcAudiences) == 0 {
			srv.bypassAuth = true
		}
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/status", s.handleStatus)
	apiMux.HandleFunc("GET /api/settings", s.handleGetSettings)
	apiMux.HandleFunc("POST /api/settings", s.handleUpdateSettings)
	apiMux.HandleFunc("GET /api/sessions", s.handleSessions)
	apiMux.HandleFunc("GET /api/history/snapshots", s.handleSnapshots)
	apiMux.HandleFunc("PUT /api/control/override", s.handleOverride)
	apiMux.HandleFunc("GET /api/auth/status", s.handleAuthStatus)
	apiMux.HandleFunc("POST /api/auth/login", s.handleLogin)
	apiMux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	apiMux.HandleFunc("POST /api/join", s.handleJoin)

	mux := http.NewServeMux()
	mux.Handle("/api/", s.authMiddleware(apiMux))

	// the dashboard frontend is served by a dev server during development
	if s.devProxy != "" {
		u, err := url.Parse(s.devProxy)
		if err != nil {
			panic(fmt.Errorf("invalid dev-proxy url (%s): %w", s.devProxy, err))
		}
		mux.Handle("/", httputil.NewSingleHostReverseProxy(u))
	}
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.revisionMiddleware(gziphandler.GzipHandler(s.securityHeadersMiddleware(mux)))
}

func (s *Server) getUser(r *http.Request) types.User {
	if user, ok := r.Context().Value(userContextKey).(types.User); ok {
		return user
	}
	return types.User{}
}

// Run starts the HTTP server and blocks until the context is canceled or an
// error occurs. It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}

// isAdminEmail returns true if the email is in the adminEmails list.
func (s *Server) isAdminEmail(email string) bool {
	for _, adminEmail := range s.adminEmails {
		if email == adminEmail {
			return true
		}
	}
	return false
}
