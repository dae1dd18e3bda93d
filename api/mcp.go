package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/docfeed/prompt"
	"github.com/hazyhaar/docfeed/source"
)

// RegisterMCP registers the docfeed tools on srv.
func (s *Server) RegisterMCP(srv *mcp.Server) {
	s.registerSubmitTool(srv)
	s.registerProgressTool(srv)
	s.registerStopTool(srv)
	s.registerSettingsTool(srv)
	s.registerExtractTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// registerTool decodes the call arguments into Req, runs fn and returns
// its result as JSON text. Failures become tool errors, not protocol errors.
func registerTool[Req any](srv *mcp.Server, tool *mcp.Tool, fn func(ctx context.Context, req *Req) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, call *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var req Req
		if args := call.Params.Arguments; len(args) > 0 {
			if err := json.Unmarshal(args, &req); err != nil {
				return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
			}
		}
		resp, err := fn(ctx, &req)
		if err != nil {
			return toolError(err), nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return toolError(fmt.Errorf("marshal: %w", err)), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

func toolError(err error) *mcp.CallToolResult {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res
}

// --- submit ---

type submitRequest struct {
	URI  string `json:"uri,omitempty"`
	Name string `json:"name,omitempty"`
	Text string `json:"text,omitempty"`
}

func (s *Server) registerSubmitTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "docfeed_submit",
		Description: "Start delivering a document to the chat page, chunk by chunk. Give either a uri (path, file:// or s3://) or inline text with a name.",
		InputSchema: inputSchema(map[string]any{
			"uri":  map[string]any{"type": "string", "description": "Document location: local path, file:// or s3://bucket/key"},
			"name": map[string]any{"type": "string", "description": "File name for inline text"},
			"text": map[string]any{"type": "string", "description": "Inline plain text to deliver instead of a uri"},
		}, nil),
	}
	registerTool(srv, tool, func(ctx context.Context, r *submitRequest) (any, error) {
		var (
			doc = source.FromBytes(r.Name, "text/plain", []byte(r.Text))
			err error
		)
		switch {
		case r.URI != "":
			doc, err = s.cfg.Loader.Open(ctx, r.URI)
			if err != nil {
				return nil, err
			}
		case r.Text == "":
			return nil, errors.New("uri or text is required")
		}
		if err := s.submit(doc); err != nil {
			return nil, err
		}
		return submitResponse{Document: doc.Name, Format: doc.Format, Progress: s.cfg.Controller.Progress()}, nil
	})
}

// --- progress ---

func (s *Server) registerProgressTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "docfeed_progress",
		Description: "Report the delivery state: current part, total parts, recoveries and last outcome.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	registerTool(srv, tool, func(context.Context, *struct{}) (any, error) {
		return s.cfg.Controller.Progress(), nil
	})
}

// --- stop ---

func (s *Server) registerStopTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "docfeed_stop",
		Description: "Stop the active delivery. Parts already sent are not undone.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	registerTool(srv, tool, func(context.Context, *struct{}) (any, error) {
		return map[string]bool{"stopped": s.cfg.Controller.Stop()}, nil
	})
}

// --- settings ---

type settingsRequest struct {
	ChunkSize        *int              `json:"chunk_size,omitempty"`
	Templates        *prompt.Templates `json:"templates,omitempty"`
	Blacklist        *[]string         `json:"blacklist,omitempty"`
	IgnoreExtensions *[]string         `json:"ignore_extensions,omitempty"`
	Persist          bool              `json:"persist,omitempty"`
}

func (s *Server) registerSettingsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "docfeed_settings",
		Description: "Read or change the chunk size, prompt templates and archive filters. Without arguments returns the current settings.",
		InputSchema: inputSchema(map[string]any{
			"chunk_size": map[string]any{"type": "integer", "description": "Chunk budget in bytes (saved immediately)"},
			"templates": map[string]any{"type": "object", "description": "Prompt templates", "properties": map[string]any{
				"base":   map[string]any{"type": "string"},
				"single": map[string]any{"type": "string"},
				"multi":  map[string]any{"type": "string"},
				"last":   map[string]any{"type": "string"},
			}},
			"blacklist":         map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Archive member names to skip"},
			"ignore_extensions": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Archive member extensions to skip"},
			"persist":           map[string]any{"type": "boolean", "description": "Save templates and lists to the store"},
		}, nil),
	}
	registerTool(srv, tool, func(ctx context.Context, r *settingsRequest) (any, error) {
		if err := s.applySettings(ctx, settingsUpdate{
			ChunkSize:        r.ChunkSize,
			Templates:        r.Templates,
			Blacklist:        r.Blacklist,
			IgnoreExtensions: r.IgnoreExtensions,
		}); err != nil {
			return nil, err
		}
		if r.Persist {
			if err := s.cfg.Settings.PersistTemplates(ctx); err != nil {
				return nil, err
			}
			if err := s.cfg.Settings.PersistLists(ctx); err != nil {
				return nil, err
			}
		}
		return s.settingsView(), nil
	})
}

// --- extract ---

type extractRequest struct {
	URI      string `json:"uri"`
	WithText bool   `json:"with_text,omitempty"`
}

func (s *Server) registerExtractTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "docfeed_extract",
		Description: "Extract a document and plan its chunks with the current settings, without delivering it.",
		InputSchema: inputSchema(map[string]any{
			"uri":       map[string]any{"type": "string", "description": "Document location: local path, file:// or s3://bucket/key"},
			"with_text": map[string]any{"type": "boolean", "description": "Include the extracted text (default: false)"},
		}, []string{"uri"}),
	}
	registerTool(srv, tool, func(ctx context.Context, r *extractRequest) (any, error) {
		if r.URI == "" {
			return nil, errors.New("uri is required")
		}
		doc, err := s.cfg.Loader.Open(ctx, r.URI)
		if err != nil {
			return nil, err
		}
		return s.preview(ctx, doc, r.WithText)
	})
}
