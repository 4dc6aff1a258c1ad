// Package server exposes the sync store over HTTP: metadata listing,
// blob retrieval, remote ingest, and a websocket event feed.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"csync/internal/ingest"
	"csync/internal/query"
	"csync/internal/service"
	"csync/internal/storage"
	"csync/pkg/types"
)

// Wire headers carried alongside raw blob payloads.
const (
	HeaderBlobType = "X-Blob-Type"
	HeaderBlobSha  = "X-Blob-Sha256"
	HeaderFileName = "X-File-Name"
	HeaderFileMode = "X-File-Mode"
	HeaderSource   = "X-Source"
)

type Config struct {
	Addr string
}

type Server struct {
	svc     *service.SyncService
	queries *query.Service
	hub     *Hub
	srv     *http.Server
	config  Config
}

func New(svc *service.SyncService, queries *query.Service, config Config) *Server {
	hub := newHub()
	svc.RegisterHandler(hub)
	go hub.run()
	return &Server{
		svc:     svc,
		queries: queries,
		hub:     hub,
		config:  config,
	}
}

// Handler builds the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealthz)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Get("/metadata", s.handleMetadata)
		r.Put("/blob", s.handlePutBlob)
		r.Get("/blob/{id}", s.handleGetBlob)
		r.Delete("/blob/{id}", s.handleDeleteBlob)
		r.Post("/blob/{id}/pin", s.handlePin(true))
		r.Delete("/blob/{id}/pin", s.handlePin(false))
		r.Post("/clear", s.handleClear)
		r.Get("/events", s.serveWs)
	})

	return r
}

func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:    s.config.Addr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server error on %s: %w", s.config.Addr, err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		slog.Info("http server started", "addr", s.config.Addr)
		return nil
	}
}

func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("error shutting down server: %w", err)
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	state, err := s.queries.State(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	list, err := s.queries.ListMetadata(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetBlob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	blob, err := s.queries.FetchBlob(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set(HeaderBlobType, blob.Type.String())
	w.Header().Set(HeaderBlobSha, blob.Hash)
	if blob.FileName != "" {
		w.Header().Set(HeaderFileName, blob.FileName)
		w.Header().Set(HeaderFileMode, strconv.FormatUint(uint64(blob.FileMode), 8))
	}
	w.Header().Set("Content-Type", contentTypeFor(blob.Type))
	w.Write(blob.Data)
}

func (s *Server) handlePutBlob(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, storage.MaxStorageSize+1))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	typ, err := types.ParseBlobType(r.Header.Get(HeaderBlobType))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var fileMode uint64
	if m := r.Header.Get(HeaderFileMode); m != "" {
		fileMode, _ = strconv.ParseUint(m, 8, 32)
	}

	entry, err := s.svc.Ingest(r.Context(), types.Event{
		Payload:   payload,
		Type:      typ,
		FileName:  r.Header.Get(HeaderFileName),
		FileMode:  uint32(fileMode),
		Source:    r.Header.Get(HeaderSource),
		Timestamp: time.Now(),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, storage.ToMetadata(entry))
}

func (s *Server) handleDeleteBlob(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handlePin(pinned bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.svc.Pin(r.Context(), chi.URLParam(r, "id"), pinned); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Clear(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func contentTypeFor(typ types.BlobType) string {
	switch typ {
	case types.BlobText:
		return "text/plain; charset=utf-8"
	case types.BlobImage:
		return "image/png"
	default:
		return "application/octet-stream"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ingest.ErrInvalidEvent):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, storage.ErrTooLarge):
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
	case errors.Is(err, storage.ErrRetentionFull):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
