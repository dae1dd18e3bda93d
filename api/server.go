// Package api exposes the delivery controller, the settings and the
// journal over HTTP (JSON) and as MCP tools.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/docfeed/chunk"
	"github.com/hazyhaar/docfeed/docpipe"
	"github.com/hazyhaar/docfeed/feeder"
	"github.com/hazyhaar/docfeed/journal"
	"github.com/hazyhaar/docfeed/prompt"
	"github.com/hazyhaar/docfeed/settings"
	"github.com/hazyhaar/docfeed/source"
)

// Config wires the server to the running components. Journal is optional.
type Config struct {
	Controller *feeder.Controller
	Settings   *settings.Manager
	Extractor  feeder.Extractor
	Loader     *source.Loader
	Journal    *journal.Journal

	AllowedOrigins []string
	MaxUploadSize  int64
	Version        string

	// BaseContext outlives requests; background deliveries run under it.
	BaseContext context.Context
	Logger      *slog.Logger
}

// Server serves the HTTP API and the MCP endpoint.
type Server struct {
	cfg    Config
	logger *slog.Logger
	mcp    *mcp.Server
}

// New creates a Server and registers its MCP tools.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = source.DefaultMaxSize
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	s := &Server{cfg: cfg, logger: cfg.Logger}
	s.mcp = mcp.NewServer(&mcp.Implementation{Name: "docfeed", Version: cfg.Version}, nil)
	s.RegisterMCP(s.mcp)
	return s
}

// MCPServer returns the MCP server holding the docfeed tools.
func (s *Server) MCPServer() *mcp.Server { return s.mcp }

// Handler returns the HTTP router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger))
	r.Use(headToGet)
	r.Use(securityHeaders)
	r.Use(limitJSONBody)
	if len(s.cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "Mcp-Session-Id"},
			ExposedHeaders: []string{"Mcp-Session-Id"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok", "version": s.cfg.Version})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/progress", s.handleProgress)
		r.Post("/documents", s.handleUpload)
		r.Post("/documents/uri", s.handleSubmitURI)
		r.Post("/stop", s.handleStop)
		r.Post("/extract", s.handleExtract)

		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handlePutSettings)
		r.Post("/settings/templates/persist", s.handlePersistTemplates)
		r.Post("/settings/lists/persist", s.handlePersistLists)

		r.Get("/events", s.handleEvents)
	})

	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil)
	r.Handle("/mcp", mcpHandler)
	r.Handle("/mcp/*", mcpHandler)
	return r
}

// --- delivery ---

type submitResponse struct {
	Document string          `json:"document"`
	Format   docpipe.Format  `json:"format"`
	Progress feeder.Progress `json:"progress"`
}

func (s *Server) handleProgress(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, 200, s.cfg.Controller.Progress())
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	doc, err := s.readUpload(w, r)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.start(w, doc)
}

func (s *Server) handleSubmitURI(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URI string `json:"uri"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, err)
		return
	}
	if req.URI == "" {
		writeError(w, 400, errors.New("uri is required"))
		return
	}
	doc, err := s.cfg.Loader.Open(r.Context(), req.URI)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.start(w, doc)
}

func (s *Server) start(w http.ResponseWriter, doc docpipe.Document) {
	if err := s.submit(doc); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, 202, submitResponse{Document: doc.Name, Format: doc.Format, Progress: s.cfg.Controller.Progress()})
}

func (s *Server) submit(doc docpipe.Document) error {
	if err := s.cfg.Controller.Start(s.cfg.BaseContext, doc); err != nil {
		return err
	}
	s.logger.Info("api: document accepted", "document", doc.Name, "format", doc.Format, "bytes", len(doc.Data))
	return nil
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, 200, map[string]bool{"stopped": s.cfg.Controller.Stop()})
}

// --- extraction preview ---

type extractResponse struct {
	Document string         `json:"document"`
	Format   docpipe.Format `json:"format"`
	Length   int            `json:"length"`
	Budget   int            `json:"budget"`
	Chunks   []chunkInfo    `json:"chunks"`
	Text     string         `json:"text,omitempty"`
}

type chunkInfo struct {
	Index int  `json:"index"`
	Bytes int  `json:"bytes"`
	Last  bool `json:"last"`
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	doc, err := s.readUpload(w, r)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	res, err := s.preview(r.Context(), doc, r.URL.Query().Get("text") != "0")
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, 200, res)
}

// preview extracts doc and plans its chunks with the current settings
// without delivering anything.
func (s *Server) preview(ctx context.Context, doc docpipe.Document, withText bool) (*extractResponse, error) {
	cfg := s.cfg.Settings.Snapshot()
	text, err := s.cfg.Extractor.Extract(ctx, doc, cfg.Filter())
	if err != nil {
		return nil, err
	}
	chunks := chunk.Plan(text, cfg.ChunkSize)
	res := &extractResponse{
		Document: doc.Name,
		Format:   doc.Format,
		Length:   len(text),
		Budget:   cfg.ChunkSize,
		Chunks:   make([]chunkInfo, len(chunks)),
	}
	for i, c := range chunks {
		res.Chunks[i] = chunkInfo{Index: c.Index, Bytes: c.Len(), Last: c.Last}
	}
	if withText {
		res.Text = text
	}
	return res, nil
}

func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (docpipe.Document, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSize+1<<20)
	f, hdr, err := r.FormFile("file")
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return docpipe.Document{}, fmt.Errorf("%w: upload exceeds %d bytes", source.ErrTooLarge, s.cfg.MaxUploadSize)
		}
		return docpipe.Document{}, badRequest(fmt.Errorf("missing multipart field \"file\": %w", err))
	}
	defer f.Close()
	return source.Read(f, hdr.Filename, hdr.Header.Get("Content-Type"), s.cfg.MaxUploadSize)
}

// --- settings ---

type settingsResponse struct {
	Settings  settings.Settings   `json:"settings"`
	Fallbacks []settings.Fallback `json:"fallbacks,omitempty"`
}

// settingsUpdate changes only the fields present. The chunk size is saved
// at once; templates and lists need their persist call.
type settingsUpdate struct {
	ChunkSize        *int              `json:"chunk_size"`
	Templates        *prompt.Templates `json:"templates"`
	Blacklist        *[]string         `json:"blacklist"`
	IgnoreExtensions *[]string         `json:"ignore_extensions"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, 200, s.settingsView())
}

func (s *Server) settingsView() settingsResponse {
	return settingsResponse{Settings: s.cfg.Settings.Snapshot(), Fallbacks: s.cfg.Settings.Fallbacks()}
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, err)
		return
	}
	if err := s.applySettings(r.Context(), req); err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, s.settingsView())
}

func (s *Server) applySettings(ctx context.Context, req settingsUpdate) error {
	m := s.cfg.Settings
	if req.ChunkSize != nil {
		if err := m.SetChunkSize(ctx, *req.ChunkSize); err != nil {
			return fmt.Errorf("save chunk size: %w", err)
		}
	}
	if req.Templates != nil {
		m.SetTemplates(*req.Templates)
	}
	if req.Blacklist != nil || req.IgnoreExtensions != nil {
		cur := m.Snapshot()
		bl, ig := cur.Blacklist, cur.IgnoreExtensions
		if req.Blacklist != nil {
			bl = *req.Blacklist
		}
		if req.IgnoreExtensions != nil {
			ig = *req.IgnoreExtensions
		}
		m.SetLists(bl, ig)
	}
	return nil
}

func (s *Server) handlePersistTemplates(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Settings.PersistTemplates(r.Context()); err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, map[string]string{"status": "saved"})
}

func (s *Server) handlePersistLists(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Settings.PersistLists(r.Context()); err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, map[string]string{"status": "saved"})
}

// --- journal ---

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Journal == nil {
		writeError(w, 503, errors.New("journal disabled"))
		return
	}
	var (
		events []feeder.Event
		err    error
	)
	if id := r.URL.Query().Get("session"); id != "" {
		events, err = s.cfg.Journal.Session(r.Context(), id)
	} else {
		events, err = s.cfg.Journal.Recent(r.Context(), queryInt(r, "limit", 50))
	}
	if err != nil {
		writeError(w, 500, err)
		return
	}
	if events == nil {
		events = []feeder.Event{}
	}
	writeJSON(w, 200, events)
}

// --- helpers ---

type badRequestError struct{ err error }

func (e badRequestError) Error() string { return e.err.Error() }
func (e badRequestError) Unwrap() error { return e.err }

func badRequest(err error) error { return badRequestError{err} }

func statusFor(err error) int {
	var xerr *docpipe.ExtractionError
	var bad badRequestError
	switch {
	case errors.Is(err, feeder.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, source.ErrTooLarge), errors.Is(err, docpipe.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, source.ErrUnsupportedScheme), errors.As(err, &bad):
		return http.StatusBadRequest
	case errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound
	case errors.As(err, &xerr):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return v
}
