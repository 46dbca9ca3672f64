// Package api serves the content API over a graph.Repository.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/systemshift/docmigrate/internal/core"
	"github.com/systemshift/docmigrate/internal/logger"
	"github.com/systemshift/docmigrate/internal/server/graph"
)

// Server holds the HTTP server dependencies
type Server struct {
	repo    graph.Repository
	project string
	dataset string
	token   string
	log     *zap.Logger
}

// Options scope a Server to one project and dataset. An empty Token disables auth.
type Options struct {
	Project string
	Dataset string
	Token   string
}

// New creates a new API server
func New(repo graph.Repository, opts Options, log *zap.Logger) *Server {
	return &Server{
		repo:    repo,
		project: opts.Project,
		dataset: opts.Dataset,
		token:   opts.Token,
		log:     logger.OrNop(log).With(zap.String("component", "api")),
	}
}

// Router builds the chi router with every content API route mounted
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLog)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.HealthCheck)

	r.Route("/v1/{project}/{dataset}", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.scope)

		r.Post("/query", s.Query)
		r.Post("/documents", s.CreateDocument)
		r.Get("/documents/{id}", s.GetDocument)
		r.Put("/documents/{id}", s.PutDocument)
		r.Patch("/documents/{id}", s.PatchDocument)
		r.Delete("/documents/{id}", s.DeleteDocument)
	})

	return r
}

// ErrorResponse is the JSON error envelope
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// QueryResponse is the response for POST /query
type QueryResponse struct {
	Documents []*core.Document `json:"documents"`
	Total     int              `json:"total"`
}

// HealthCheck handles GET /health
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Query handles POST /v1/{project}/{dataset}/query
func (s *Server) Query(w http.ResponseWriter, r *http.Request) {
	var q core.Query
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeError(w, http.StatusBadRequest, "invalid", err.Error())
		return
	}
	if q.Limit < 0 || q.Offset < 0 {
		writeError(w, http.StatusBadRequest, "invalid", "limit and offset must not be negative")
		return
	}

	docs, total, err := s.repo.QueryDocuments(r.Context(), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if docs == nil {
		docs = []*core.Document{}
	}
	writeJSON(w, http.StatusOK, QueryResponse{Documents: docs, Total: total})
}

// CreateDocument handles POST /v1/{project}/{dataset}/documents
func (s *Server) CreateDocument(w http.ResponseWriter, r *http.Request) {
	doc, ok := decodeDocument(w, r)
	if !ok {
		return
	}
	created, err := s.repo.CreateDocument(r.Context(), doc)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// GetDocument handles GET /v1/{project}/{dataset}/documents/{id}
func (s *Server) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.repo.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// PutDocument handles PUT /v1/{project}/{dataset}/documents/{id}
func (s *Server) PutDocument(w http.ResponseWriter, r *http.Request) {
	doc, ok := decodeDocument(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if doc.ID == "" {
		doc.ID = id
	}
	if doc.ID != id {
		writeError(w, http.StatusBadRequest, "invalid", "document id does not match path")
		return
	}
	stored, err := s.repo.PutDocument(r.Context(), doc)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

// PatchDocument handles PATCH /v1/{project}/{dataset}/documents/{id}
func (s *Server) PatchDocument(w http.ResponseWriter, r *http.Request) {
	var p core.Patch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid", err.Error())
		return
	}
	if p.Empty() {
		writeError(w, http.StatusBadRequest, "invalid", "patch has no set or unset entries")
		return
	}
	doc, err := s.repo.PatchDocument(r.Context(), chi.URLParam(r, "id"), p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// DeleteDocument handles DELETE /v1/{project}/{dataset}/documents/{id}.
// An absent id answers 404 so the caller can tell it apart from a real delete.
func (s *Server) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	existed, err := s.repo.DeleteDocument(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !existed {
		writeError(w, http.StatusNotFound, "not_found", "document "+id+" not found")
		return
	}
	writeJSON(w, http.StatusOK, core.Ack{ID: id, Existed: true})
}

func decodeDocument(w http.ResponseWriter, r *http.Request) (*core.Document, bool) {
	var doc core.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid", err.Error())
		return nil, false
	}
	if id := chi.URLParam(r, "id"); doc.ID == "" && id != "" {
		doc.ID = id
	}
	if err := doc.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid", err.Error())
		return nil, false
	}
	return &doc, true
}

// fail maps repository errors to status codes
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, core.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "exists", err.Error())
	case errors.Is(err, core.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", "revision mismatch")
	default:
		s.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "", "internal error")
	}
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || got != s.token {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) scope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if (s.project != "" && chi.URLParam(r, "project") != s.project) ||
			(s.dataset != "" && chi.URLParam(r, "dataset") != s.dataset) {
			writeError(w, http.StatusNotFound, "not_found", "unknown project or dataset")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}
