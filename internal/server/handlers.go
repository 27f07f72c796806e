package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/Alamsyahapriatama/voucher-storage-esp32/internal/camera"
	"github.com/Alamsyahapriatama/voucher-storage-esp32/internal/scanning"
	"github.com/Alamsyahapriatama/voucher-storage-esp32/internal/session"
	"github.com/Alamsyahapriatama/voucher-storage-esp32/internal/voucher"
	"github.com/Alamsyahapriatama/voucher-storage-esp32/internal/workflow"
)

// maxFormSize allows high-resolution phone photos
const maxFormSize = int64(50 << 20)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, workflow.ErrInvalidInput):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, workflow.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, workflow.ErrNoCamera):
		return http.StatusNotImplemented
	case errors.Is(err, voucher.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, voucher.ErrNetwork):
		return http.StatusBadGateway
	case errors.Is(err, camera.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, camera.ErrCapture):
		return http.StatusUnprocessableEntity
	case errors.Is(err, camera.ErrDevice):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrInvalidCredentials):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError reports err with the status it maps to
func writeDomainError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		slog.Error("Request failed", "error", err)
	}

	body := map[string]string{"error": err.Error()}
	var permErr *camera.PermissionError
	if errors.As(err, &permErr) {
		body["remediation"] = permErr.Remediation
	}
	writeJSON(w, code, body)
}

// handleLogin starts a local session
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, err := s.deps.Sessions.Login(req.Username, req.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// handleLogout ends the session
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Sessions.Logout(); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSession reports who is logged in
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	user := s.deps.Sessions.Current()
	writeJSON(w, http.StatusOK, map[string]any{
		"isAuthenticated": user != nil,
		"user":            user,
	})
}

// handleListVouchers returns the collection, filtered by the q parameter
func (s *Server) handleListVouchers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Vouchers.Search(r.URL.Query().Get("q")))
}

// handleGetVoucher returns a single voucher
func (s *Server) handleGetVoucher(w http.ResponseWriter, r *http.Request) {
	v, err := s.deps.Vouchers.Get(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// handleUpdateVoucher edits a voucher through the backend
func (s *Server) handleUpdateVoucher(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filename string  `json:"filename"`
		Title    *string `json:"title"`
		OCRText  *string `json:"ocrText"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	v, err := s.deps.Vouchers.Update(r.Context(), r.PathValue("id"), voucher.Patch{
		Filename: req.Filename,
		Title:    req.Title,
		OCRText:  req.OCRText,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// handleDeleteVoucher removes a voucher remotely, then locally
func (s *Server) handleDeleteVoucher(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Vouchers.Remove(r.Context(), r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRefreshVouchers replaces the collection with the backend's list
func (s *Server) handleRefreshVouchers(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Vouchers.Refresh(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Vouchers.List())
}

// handleUploadScan submits an uploaded image to the scan workflow
func (s *Server) handleUploadScan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "File is too large. Maximum size is 50MB. Please compress or resize your image.", http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, "No file was selected. Please choose a file to upload.", http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}

	v, err := s.deps.Workflow.Submit(r.Context(), scanning.Upload{
		Filename:    header.Filename,
		Data:        data,
		ContentType: header.Header.Get("Content-Type"),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

// handleCameraStatus reports the capture controller state
func (s *Server) handleCameraStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Camera == nil {
		writeDomainError(w, workflow.ErrNoCamera)
		return
	}
	body := map[string]any{"state": s.deps.Camera.State()}
	if err := s.deps.Camera.Err(); err != nil {
		body["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

// handleCameraActivate opens the camera stream
func (s *Server) handleCameraActivate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Camera == nil {
		writeDomainError(w, workflow.ErrNoCamera)
		return
	}
	if err := s.deps.Camera.Activate(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": s.deps.Camera.State()})
}

// handleCameraCapture snapshots the camera and scans the still
func (s *Server) handleCameraCapture(w http.ResponseWriter, r *http.Request) {
	v, err := s.deps.Workflow.CaptureAndSubmit(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

// handleCameraDeactivate releases the camera
func (s *Server) handleCameraDeactivate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Camera != nil {
		s.deps.Camera.Deactivate()
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeviceTrigger asks the backend's ESP32 camera to scan
func (s *Server) handleDeviceTrigger(w http.ResponseWriter, r *http.Request) {
	if s.deps.Device == nil {
		writeDomainError(w, workflow.ErrNoCamera)
		return
	}
	status, err := s.deps.Device.TriggerDevice(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}
