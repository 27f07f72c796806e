package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/Alamsyahapriatama/voucher-storage-esp32/internal/camera"
	"github.com/Alamsyahapriatama/voucher-storage-esp32/internal/session"
	"github.com/Alamsyahapriatama/voucher-storage-esp32/internal/voucher"
	"github.com/Alamsyahapriatama/voucher-storage-esp32/internal/workflow"
)

// DeviceTrigger starts a capture on a backend-attached camera
type DeviceTrigger interface {
	TriggerDevice(ctx context.Context) (string, error)
}

// Deps are the components the API drives. Camera and Device may be nil.
type Deps struct {
	Vouchers *voucher.Store
	Workflow *workflow.Workflow
	Camera   *camera.Controller
	Sessions *session.Store
	Device   DeviceTrigger
}

// Server handles HTTP requests for the voucher client
type Server struct {
	deps Deps
	mux  *http.ServeMux
}

// NewServer creates a new Server with default mux
func NewServer(deps Deps) *Server {
	return NewServerWithMux(deps, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(deps Deps, mux *http.ServeMux) *Server {
	s := &Server{
		deps: deps,
		mux:  mux,
	}
	s.registerRoutes()
	return s
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireSession rejects requests until a user has logged in
func (s *Server) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.deps.Sessions.IsAuthenticated() {
			writeError(w, "Please sign in first", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	// Session
	s.mux.HandleFunc("POST /api/login", s.handleLogin)
	s.mux.HandleFunc("POST /api/logout", s.handleLogout)
	s.mux.HandleFunc("GET /api/session", s.handleSession)

	// Vouchers (most specific paths first)
	s.mux.HandleFunc("POST /api/vouchers/refresh", s.requireSession(s.handleRefreshVouchers))
	s.mux.HandleFunc("GET /api/vouchers/{id}", s.requireSession(s.handleGetVoucher))
	s.mux.HandleFunc("PUT /api/vouchers/{id}", s.requireSession(s.handleUpdateVoucher))
	s.mux.HandleFunc("DELETE /api/vouchers/{id}", s.requireSession(s.handleDeleteVoucher))
	s.mux.HandleFunc("GET /api/vouchers", s.requireSession(s.handleListVouchers))

	// Scanning
	s.mux.HandleFunc("POST /api/scans", s.requireSession(s.handleUploadScan))
	s.mux.HandleFunc("GET /api/camera", s.requireSession(s.handleCameraStatus))
	s.mux.HandleFunc("POST /api/camera/activate", s.requireSession(s.handleCameraActivate))
	s.mux.HandleFunc("POST /api/camera/capture", s.requireSession(s.handleCameraCapture))
	s.mux.HandleFunc("POST /api/camera/deactivate", s.requireSession(s.handleCameraDeactivate))
	s.mux.HandleFunc("POST /api/device/trigger", s.requireSession(s.handleDeviceTrigger))
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	return http.ListenAndServe(addr, s.corsMiddleware(s.mux))
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.corsMiddleware(s.mux).ServeHTTP(w, r)
}
