// Package api serves the upload, query and reset endpoints over HTTP.
package api

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/felixge/httpsnoop"

	"github.com/fabfab/kb-agent/chat"
	"github.com/fabfab/kb-agent/embeddings"
	"github.com/fabfab/kb-agent/index"
	"github.com/fabfab/kb-agent/ingestion"
	"github.com/fabfab/kb-agent/llm"
	"github.com/fabfab/kb-agent/session"
	"github.com/fabfab/kb-agent/vectorstore"
)

//go:embed openapi.yaml
var openAPISpecYAML []byte

const multipartMemory = 8 << 20

// Uploader indexes one uploaded file.
type Uploader interface {
	IngestUpload(ctx context.Context, name string, r io.Reader) (ingestion.Result, error)
}

// Answerer produces an answer from a question and prior turns.
type Answerer interface {
	Answer(ctx context.Context, question string, history []session.Turn) (chat.Response, error)
}

// Collection is the indexed corpus as seen by the request layer.
type Collection interface {
	Reset(ctx context.Context) error
	Sources(ctx context.Context) ([]vectorstore.SourceCount, error)
}

// Purger clears a secondary catalog alongside the collection.
type Purger interface {
	Purge(ctx context.Context) error
}

type Options struct {
	// ResetToken guards /reset. Empty disables the endpoint.
	ResetToken     string
	MaxUploadBytes int64
}

// Server exposes HTTP handlers for the knowledge base workflows.
type Server struct {
	uploader   Uploader
	answerer   Answerer
	collection Collection
	sessions   session.Store
	graph      Purger
	opts       Options
	logger     *log.Logger
	handler    http.Handler
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

type uploadResponse struct {
	Message  string `json:"message"`
	Filename string `json:"filename"`
}

type queryRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id"`
}

type queryResponse struct {
	Answer     string        `json:"answer"`
	Sources    []querySource `json:"sources"`
	Confidence string        `json:"confidence"`
	SessionID  string        `json:"session_id"`
}

type querySource struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

type documentsResponse struct {
	Documents []documentInfo `json:"documents"`
}

type documentInfo struct {
	Source string `json:"source"`
	Chunks int    `json:"chunks"`
}

// New constructs a Server. graph may be nil when no document graph is configured.
func New(uploader Uploader, answerer Answerer, collection Collection, sessions session.Store, graph Purger, opts Options, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 32 << 20
	}

	s := &Server{
		uploader:   uploader,
		answerer:   answerer,
		collection: collection,
		sessions:   sessions,
		graph:      graph,
		opts:       opts,
		logger:     logger,
	}
	s.handler = s.withAccessLog(s.withCORS(s.routes()))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/openapi.yaml", s.handleOpenAPI)
	mux.HandleFunc("/upload", s.handleUpload)
	mux.HandleFunc("/query", s.handleQuery)
	mux.HandleFunc("/reset", s.handleReset)
	mux.HandleFunc("/documents", s.handleDocuments)
	return mux
}

// withAccessLog logs method, path, status and latency of every request.
func (s *Server) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		s.logger.Printf("%s %s %d %s (%s)", r.Method, r.URL.Path, m.Code, m.Duration, humanize.Bytes(uint64(m.Written)))
	})
}

// withCORS allows any origin, matching a browser front end served from elsewhere.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	s.writeJSON(w, http.StatusOK, messageResponse{Message: "ok"})
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	w.Header().Set("Content-Type", "text/yaml; charset=utf-8")
	w.Header().Set("Content-Disposition", "inline; filename=\"openapi.yaml\"")
	_, _ = w.Write(openAPISpecYAML)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Errorf("upload exceeds %s", humanize.Bytes(uint64(s.opts.MaxUploadBytes))))
			return
		}
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("parse multipart form: %w", err))
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck // best-effort cleanup of spooled parts

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("file is required: %w", err))
		return
	}
	defer file.Close()

	res, err := s.uploader.IngestUpload(r.Context(), header.Filename, file)
	if err != nil {
		s.writeError(w, statusFor(err), fmt.Errorf("process upload: %w", err))
		return
	}

	s.writeJSON(w, http.StatusOK, uploadResponse{
		Message:  "File processed and indexed successfully",
		Filename: res.Filename,
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("question is required"))
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = session.DefaultID
	}

	// Snapshot before generation: concurrent queries on one session do not see each other.
	history := s.sessions.Get(sessionID)

	resp, err := s.answerer.Answer(r.Context(), req.Question, history)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	s.sessions.Append(sessionID, req.Question, resp.Answer)
	s.writeJSON(w, http.StatusOK, transformQueryResponse(resp, sessionID))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	if s.opts.ResetToken == "" {
		s.writeError(w, http.StatusForbidden, fmt.Errorf("reset is disabled"))
		return
	}
	if bearerToken(r) != s.opts.ResetToken {
		w.Header().Set("WWW-Authenticate", "Bearer")
		s.writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid reset token"))
		return
	}

	ctx := r.Context()
	if err := s.collection.Reset(ctx); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	if s.graph != nil {
		if err := s.graph.Purge(ctx); err != nil {
			s.logger.Printf("purge knowledge graph: %v", err)
		}
	}

	s.writeJSON(w, http.StatusOK, messageResponse{Message: "Knowledge base reset successfully"})
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	sources, err := s.collection.Sources(r.Context())
	if err != nil {
		s.writeError(w, statusFor(err), fmt.Errorf("list documents: %w", err))
		return
	}

	out := documentsResponse{Documents: make([]documentInfo, len(sources))}
	for i, src := range sources {
		out.Documents[i] = documentInfo{Source: src.Source, Chunks: src.Chunks}
	}
	s.writeJSON(w, http.StatusOK, out)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ingestion.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ingestion.ErrParse), errors.Is(err, ingestion.ErrEmptyDocument):
		return http.StatusUnprocessableEntity
	case errors.Is(err, chat.ErrEmptyQuestion):
		return http.StatusBadRequest
	case errors.Is(err, index.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, embeddings.ErrService), errors.Is(err, llm.ErrService):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed, use %s", allowed))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Printf("encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Printf("api error (%d): %v", status, err)
	s.writeJSON(w, status, errorResponse{Detail: err.Error()})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}

	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}

	return nil
}

func transformQueryResponse(resp chat.Response, sessionID string) queryResponse {
	sources := make([]querySource, len(resp.Sources))
	for i, src := range resp.Sources {
		sources[i] = querySource{Text: src.Text, Source: src.Source}
	}

	return queryResponse{
		Answer:     resp.Answer,
		Sources:    sources,
		Confidence: string(resp.Confidence),
		SessionID:  sessionID,
	}
}
