// Package server exposes sessions over a JSON HTTP API.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/KaramelBytes/sheetloom-cli/internal/ingest"
	"github.com/KaramelBytes/sheetloom-cli/internal/session"
	"github.com/KaramelBytes/sheetloom-cli/internal/state"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// DefaultMaxUpload bounds uploaded file size.
const DefaultMaxUpload = 32 << 20

// Config wires a Server.
type Config struct {
	// NewSession builds an empty session for each upload.
	NewSession func() *session.Session
	Ingest     ingest.Options
	Origins    []string
	// PreviewRows caps the rows returned with a command outcome.
	PreviewRows int
	MaxUpload   int64
	Logger      zerolog.Logger
}

// Server serves the session API.
type Server struct {
	cfg   Config
	store *session.Store
	log   zerolog.Logger
}

// New builds a Server with an empty store.
func New(cfg Config) *Server {
	if cfg.PreviewRows <= 0 {
		cfg.PreviewRows = 20
	}
	if cfg.MaxUpload <= 0 {
		cfg.MaxUpload = DefaultMaxUpload
	}
	if len(cfg.Origins) == 0 {
		cfg.Origins = []string{"*"}
	}
	return &Server{cfg: cfg, store: session.NewStore(), log: cfg.Logger}
}

// Store exposes the session registry.
func (s *Server) Store() *session.Store { return s.store }

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(s.log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.Origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.health)
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Post("/", s.createSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Delete("/", s.deleteSession)
			r.Post("/commands", s.runCommand)
			r.Post("/undo", s.undo)
			r.Post("/redo", s.redo)
			r.Get("/log", s.operationLog)
			r.Get("/data", s.data)
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": s.store.Len()})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.store.IDs()})
}

type createRequest struct {
	CSV  string `json:"csv"`
	Name string `json:"name"`
}

// readUpload accepts a multipart "file" field or a JSON body with inline CSV.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (*ingest.Loaded, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUpload)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		f, hdr, err := r.FormFile("file")
		if err != nil {
			return nil, fmt.Errorf("read upload: %w", err)
		}
		defer f.Close()
		return ingest.Read(f, hdr.Filename, s.cfg.Ingest)
	}
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	if strings.TrimSpace(req.CSV) == "" {
		return nil, errors.New(`body must include "csv" or a multipart "file"`)
	}
	name := req.Name
	if name == "" {
		name = "upload.csv"
	}
	return ingest.ReadCSV(strings.NewReader(req.CSV), name, s.cfg.Ingest)
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	loaded, err := s.readUpload(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess := s.cfg.NewSession()
	if err := sess.Load(loaded.Dataset, loaded.SourceName); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := s.store.Add(sess)
	s.log.Info().Str("session", id).Str("file", loaded.SourceName).Int("rows", loaded.Dataset.NumRows()).Msg("session created")
	writeJSON(w, http.StatusCreated, sess.Snapshot())
}

// lookup resolves the {id} URL param, writing 404 when absent.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, ok := s.store.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
	}
	return sess, ok
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.lookup(w, r); ok {
		writeJSON(w, http.StatusOK, sess.Snapshot())
	}
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.store.Delete(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type commandRequest struct {
	Command string `json:"command"`
}

type commandResponse struct {
	session.Outcome
	Preview []map[string]any `json:"preview,omitempty"`
	Summary state.Summary    `json:"summary"`
}

func (s *Server) runCommand(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req commandRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil || strings.TrimSpace(req.Command) == "" {
		writeError(w, http.StatusBadRequest, `body must be {"command": "..."}`)
		return
	}
	out, err := sess.Run(r.Context(), req.Command)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	resp := commandResponse{Outcome: out, Summary: sess.Snapshot().Summary}
	if out.Applied {
		resp.Preview = sess.Dataset().Records(s.cfg.PreviewRows)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) undo(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.lookup(w, r); ok {
		done := sess.Undo()
		writeJSON(w, http.StatusOK, map[string]any{"ok": done, "summary": sess.Snapshot().Summary})
	}
}

func (s *Server) redo(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.lookup(w, r); ok {
		done := sess.Redo()
		writeJSON(w, http.StatusOK, map[string]any{"ok": done, "summary": sess.Snapshot().Summary})
	}
}

func (s *Server) operationLog(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.lookup(w, r); ok {
		writeJSON(w, http.StatusOK, map[string]any{
			"operations": sess.Log(queryInt(r, "limit", 10)),
			"messages":   sess.AgentMessages(),
		})
	}
}

func (s *Server) data(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	ds := sess.Dataset()
	writeJSON(w, http.StatusOK, map[string]any{
		"columns": ds.Names(),
		"rows":    ds.Records(queryInt(r, "limit", s.cfg.PreviewRows)),
		"total":   ds.NumRows(),
	})
}
