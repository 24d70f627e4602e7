// SPDX-License-Identifier: MPL-2.0

package pushserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"hytale-panel/internal/auth"
	"hytale-panel/internal/pathguard"
)

const multipartMemory = 32 << 20

// ErrUploadRejected is the sentinel wrapped by UploadRejectedError.
var ErrUploadRejected = errors.New("upload rejected")

type (
	// UploadRejectedError is returned for an upload whose name or destination
	// is refused. Message is safe to show to the client.
	UploadRejectedError struct {
		Message string
		Cause   error
	}

	claimsKey struct{}
)

// Error implements the error interface.
func (e *UploadRejectedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("upload rejected: %s: %v", e.Message, e.Cause)
	}
	return "upload rejected: " + e.Message
}

// Unwrap returns ErrUploadRejected and the cause for errors.Is() compatibility.
func (e *UploadRejectedError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrUploadRejected, e.Cause}
	}
	return []error{ErrUploadRejected}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /panel-config", s.handlePanelConfig)
	mux.HandleFunc("GET /auth/status", s.handleAuthStatus)
	mux.Handle("GET /ws", s.requireAuth(http.HandlerFunc(s.handleWS)))
	mux.Handle("GET /api/files/status", s.requireAuth(http.HandlerFunc(s.handleFilesStatus)))
	mux.Handle("POST /api/files/wipe", s.requireAuth(http.HandlerFunc(s.handleWipe)))
	mux.Handle("POST /api/files/upload", s.requireAuth(http.HandlerFunc(s.handleUpload)))

	if s.cfg.BasePath == "" {
		return mux
	}
	root := http.NewServeMux()
	root.Handle(s.cfg.BasePath+"/", http.StripPrefix(s.cfg.BasePath, mux))
	// The browser probes /panel-config before it knows the base path.
	root.HandleFunc("GET /panel-config", s.handlePanelConfig)
	root.HandleFunc("GET /health", s.handleHealth)
	return root
}

// claims returns the verified token claims, or nil when auth is disabled.
func (s *Server) claims(r *http.Request) *auth.Claims {
	if s.deps.Issuer == nil {
		return nil
	}
	return s.deps.Issuer.Verify(auth.TokenFromRequest(r))
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	if s.cfg.AuthDisabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := s.claims(r)
		if claims == nil {
			writeJSON(w, http.StatusUnauthorized, ErrorPayload{Message: "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

func usernameFrom(ctx context.Context) string {
	if c, ok := ctx.Value(claimsKey{}).(*auth.Claims); ok {
		return c.Username
	}
	return ""
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handlePanelConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, PanelConfig{
		BasePath:       s.cfg.BasePath,
		AuthDisabled:   s.cfg.AuthDisabled,
		AllowedUploads: pathguard.AllowedUploadExtensions(),
	})
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	if s.cfg.AuthDisabled {
		writeJSON(w, http.StatusOK, AuthStatus{Authenticated: true})
		return
	}
	claims := s.claims(r)
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, AuthStatus{})
		return
	}
	writeJSON(w, http.StatusOK, AuthStatus{Authenticated: true, Username: claims.Username})
}

func (s *Server) handleFilesStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.filesStatus(r.Context()))
}

func (s *Server) filesStatus(ctx context.Context) FilesStatus {
	_, active := s.deps.Runner.Registry().Active(s.deps.Target.Env.Name())
	return FilesStatus{
		ArtifactStatus: s.deps.Files.CheckServerFiles(ctx),
		Authenticated:  s.deps.Files.CheckAuth(ctx),
		Provisioning:   active,
	}
}

func (s *Server) handleWipe(w http.ResponseWriter, r *http.Request) {
	res := s.deps.Files.WipeData(r.Context())
	code := http.StatusOK
	if !res.Success {
		code = http.StatusInternalServerError
	}
	s.logger.Info("wipe requested", "user", usernameFrom(r.Context()), "success", res.Success)
	writeJSON(w, code, res)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, UploadResult{Error: "File too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, UploadResult{Error: "Invalid upload"})
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, UploadResult{Error: "No file provided"})
		return
	}
	defer file.Close()

	dest, err := s.uploadDestination(r.FormValue("path"), header.Filename)
	if err != nil {
		var rejected *UploadRejectedError
		errors.As(err, &rejected)
		s.logger.Warn("upload rejected", "user", usernameFrom(r.Context()), "file", header.Filename, "error", err)
		writeJSON(w, http.StatusBadRequest, UploadResult{Error: rejected.Message})
		return
	}

	if err := s.copyIn(r.Context(), file, dest.String()); err != nil {
		s.logger.Error("upload failed", "path", dest.String(), "error", err)
		writeJSON(w, http.StatusInternalServerError, UploadResult{Error: "Upload failed"})
		return
	}
	s.logger.Info("file uploaded", "user", usernameFrom(r.Context()), "path", dest.String(), "size", header.Size)
	writeJSON(w, http.StatusOK, UploadResult{Success: true, Path: dest.Rel()})
}

// uploadDestination applies the upload boundary. Every failure is an
// *UploadRejectedError.
func (s *Server) uploadDestination(dir, filename string) (pathguard.SanitizedPath, error) {
	if !pathguard.IsAllowedUpload(filename) {
		return pathguard.SanitizedPath{}, &UploadRejectedError{Message: "File type not allowed"}
	}
	dest, err := s.deps.Guard.SanitizeUpload(dir, filename)
	if err != nil {
		return pathguard.SanitizedPath{}, &UploadRejectedError{Message: "Invalid path", Cause: err}
	}
	return dest, nil
}

// copyIn stages the upload in a host temp file and copies it into the container.
func (s *Server) copyIn(ctx context.Context, src io.Reader, containerPath string) error {
	tmp, err := os.CreateTemp("", "hytale-upload-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, src); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to stage upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to stage upload: %w", err)
	}
	return s.deps.Container.CopyIn(ctx, tmp.Name(), containerPath)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
