// Package httpapi exposes the pipeline over HTTP: the synchronous
// artifact-generation call, vendor submission, the thin administrative
// create wrapper, and public artifact retrieval.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"signflow/agreement"
	"signflow/auth"
	"signflow/blob"
	"signflow/fault"
	"signflow/lifecycle"
)

// Engine is the slice of the trigger engine the HTTP layer drives.
type Engine interface {
	GenerateArtifact(ctx context.Context, req lifecycle.ArtifactRequest) (lifecycle.ArtifactResult, error)
	Submit(ctx context.Context, req lifecycle.SubmitRequest) (agreement.Agreement, error)
}

// Authenticator issues tokens for the admin surface.
type Authenticator interface {
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
}

// Options carry the fixed HTTP-layer settings.
type Options struct {
	// JWTSecret protects the admin surface; empty disables verification.
	JWTSecret string
	// GenerateTimeout bounds one artifact-generation call.
	GenerateTimeout time.Duration
	// Metrics, when set, is mounted at /metrics.
	Metrics http.Handler
	// Auth, when set, mounts the operator login endpoint.
	Auth Authenticator
}

type Server struct {
	router     *chi.Mux
	store      agreement.Store
	engine     Engine
	blobs      blob.Store
	logger     *zap.Logger
	jwtSecret  []byte
	genTimeout time.Duration
	metrics    http.Handler
	auth       Authenticator
}

func NewServer(store agreement.Store, engine Engine, blobs blob.Store, logger *zap.Logger, opts Options) *Server {
	if opts.GenerateTimeout <= 0 {
		opts.GenerateTimeout = 2 * time.Minute
	}
	s := &Server{
		router:     chi.NewRouter(),
		store:      store,
		engine:     engine,
		blobs:      blobs,
		logger:     logger,
		jwtSecret:  []byte(opts.JWTSecret),
		genTimeout: opts.GenerateTimeout,
		metrics:    opts.Metrics,
		auth:       opts.Auth,
	}
	s.routes()
	return s
}

// Router returns the assembled handler.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Public surface: vendor submission and artifact retrieval. Vendor
	// identity is handled by the external auth collaborator.
	r.Group(func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		if s.metrics != nil {
			r.Method(http.MethodGet, "/metrics", s.metrics)
		}
		r.Get("/files/*", s.handleFile)
		r.Post("/api/sign/{agreementID}", s.handleSubmit)
		if s.auth != nil {
			r.Post("/api/auth/login", s.handleLogin)
		}
	})

	// Admin surface.
	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Post("/api/agreements", s.handleCreate)
		r.Post("/api/agreements/generate", s.handleGenerate)
	})
}

type createRequest struct {
	VendorName  string `json:"vendorName"`
	VendorEmail string `json:"vendorEmail"`
	SenderName  string `json:"senderName"`
	PDFURL      string `json:"pdfUrl"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fault.Wrap(fault.Validation, err, "httpapi: decode create request"))
		return
	}

	rec, err := s.store.Create(r.Context(), agreement.CreateParams{
		VendorName:  req.VendorName,
		VendorEmail: req.VendorEmail,
		SenderName:  req.SenderName,
		PDFURL:      req.PDFURL,
	})
	if err != nil {
		s.writeError(w, fault.Wrap(fault.Validation, err, "httpapi: create agreement"))
		return
	}

	s.writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req lifecycle.ArtifactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fault.Wrap(fault.Validation, err, "httpapi: decode generate request"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.genTimeout)
	defer cancel()

	res, err := s.engine.GenerateArtifact(ctx, req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, res)
}

type submitRequest struct {
	FormData         map[string]string       `json:"formData"`
	SignatureDataURL string                  `json:"signatureDataUrl"`
	Documents        []agreement.DocumentRef `json:"documents"`
	Platform         string                  `json:"platform"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fault.Wrap(fault.Validation, err, "httpapi: decode submission"))
		return
	}

	platform := req.Platform
	if platform == "" {
		platform = r.UserAgent()
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.genTimeout)
	defer cancel()

	rec, err := s.engine.Submit(ctx, lifecycle.SubmitRequest{
		AgreementID:      chi.URLParam(r, "agreementID"),
		FormData:         req.FormData,
		SignatureDataURL: req.SignatureDataURL,
		Documents:        req.Documents,
		Platform:         platform,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")

	obj, err := s.blobs.Get(r.Context(), path)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		s.writeError(w, fault.Wrap(fault.Internal, err, "httpapi: load object"))
		return
	}
	if !obj.Public {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", obj.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(obj.Data)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response encode failed", zap.Error(err))
	}
}

// writeError maps fault kinds to status codes; the human-readable message
// always travels in the body so the caller can surface it.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch fault.KindOf(err) {
	case fault.Validation:
		status = http.StatusBadRequest
	case fault.NotFound:
		status = http.StatusNotFound
	case fault.Fetch, fault.Transport:
		status = http.StatusBadGateway
	}

	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
