// Package mcp exposes the extraction pipeline over the Model Context
// Protocol: one tool for whole-document extraction and one for
// cross-source fusion. Stdio transport only.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/credex-io/credex/internal/audit"
	"github.com/credex-io/credex/internal/extract"
	"github.com/credex-io/credex/internal/fuse"
	"github.com/credex-io/credex/internal/schema"
)

// ServerConfig holds the components the MCP tools delegate to.
type ServerConfig struct {
	Extractor *extract.Extractor
	Fusion    *fuse.Engine
	Audit     *audit.Store // optional
	Version   string
	Logger    *zap.Logger
}

// NewServer creates a configured MCP server with the extraction tools.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := server.NewMCPServer(
		"credex",
		ver,
		server.WithToolCapabilities(false),
	)

	registerExtractTool(s, cfg, logger)
	registerFuseTool(s, cfg, logger)

	return s
}

// ServeStdio blocks serving the MCP protocol on stdin/stdout.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func registerExtractTool(s *server.MCPServer, cfg ServerConfig, logger *zap.Logger) {
	tool := mcp.NewTool("credex_extract",
		mcp.WithDescription("Extract a structured credit agreement record from document text. Oversized documents are chunked, extracted per chunk, and merged into one validated record."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Full agreement text to extract from"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcp.NewToolResultError("text is required"), nil
		}

		started := time.Now()
		result, err := cfg.Extractor.ExtractDocument(ctx, text)
		if err != nil {
			recordRun(ctx, cfg.Audit, logger, audit.Run{
				Kind: "document", Status: "failed", Error: err.Error(),
				StartedAt: started, FinishedAt: time.Now(),
			})
			return mcp.NewToolResultError(fmt.Sprintf("extraction failed: %v", err)), nil
		}
		recordRun(ctx, cfg.Audit, logger, audit.Run{
			Kind: "document", Status: "ok",
			ChunkCount: result.ChunkCount, PartialCount: result.Extracted,
			StartedAt: started, FinishedAt: time.Now(),
		})

		blob, err := json.MarshalIndent(struct {
			Record *schema.Record `json:"record"`
			Chunks int            `json:"chunks"`
			Merged int            `json:"merged_partials"`
		}{result.Record, result.ChunkCount, result.Extracted}, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err)), nil
		}
		return mcp.NewToolResultText(string(blob)), nil
	})
}

// fuseSource is the wire shape of one fusion input.
type fuseSource struct {
	SourceType string         `json:"source_type"`
	SourceID   string         `json:"source_id,omitempty"`
	Confidence float64        `json:"confidence"`
	Record     *schema.Record `json:"record"`
}

func registerFuseTool(s *server.MCPServer, cfg ServerConfig, logger *zap.Logger) {
	tool := mcp.NewTool("credex_fuse",
		mcp.WithDescription("Fuse full-document records from independent channels (text, document, image, audio) into one record with deterministic conflict resolution. Returns the fused record, the conflicts encountered, and the resolution method."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("sources",
			mcp.Required(),
			mcp.Description(`JSON array of sources: [{"source_type":"text","confidence":0.9,"record":{...}}]`),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := req.RequireString("sources")
		if err != nil {
			return mcp.NewToolResultError("sources is required"), nil
		}

		var wire []fuseSource
		if err := json.Unmarshal([]byte(raw), &wire); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid sources JSON: %v", err)), nil
		}
		sources := make([]fuse.Source, 0, len(wire))
		for _, w := range wire {
			sources = append(sources, fuse.Source{
				Record: w.Record,
				Descriptor: schema.SourceDescriptor{
					Type:       schema.SourceType(w.SourceType),
					SourceID:   w.SourceID,
					Confidence: w.Confidence,
				},
			})
		}

		started := time.Now()
		result, err := cfg.Fusion.Fuse(ctx, sources)
		if err != nil {
			recordRun(ctx, cfg.Audit, logger, audit.Run{
				Kind: "fusion", Status: "failed", Error: err.Error(),
				StartedAt: started, FinishedAt: time.Now(),
			})
			return mcp.NewToolResultError(fmt.Sprintf("fusion failed: %v", err)), nil
		}

		runID := audit.NewRunID()
		recordRun(ctx, cfg.Audit, logger, audit.Run{
			ID: runID, Kind: "fusion", Status: "ok",
			ConflictCount: len(result.Conflicts), Method: string(result.Method),
			StartedAt: started, FinishedAt: time.Now(),
		})
		if cfg.Audit != nil {
			if err := cfg.Audit.RecordConflicts(ctx, runID, result.Conflicts); err != nil {
				logger.Warn("recording fusion conflicts failed", zap.Error(err))
			}
		}

		blob, err := json.MarshalIndent(struct {
			Record    *schema.Record        `json:"record"`
			Method    fuse.Method           `json:"method"`
			Conflicts []fuse.ConflictRecord `json:"conflicts,omitempty"`
		}{result.Record, result.Method, result.Conflicts}, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err)), nil
		}
		return mcp.NewToolResultText(string(blob)), nil
	})
}

func recordRun(ctx context.Context, store *audit.Store, logger *zap.Logger, run audit.Run) {
	if store == nil {
		return
	}
	if err := store.RecordRun(ctx, run); err != nil {
		logger.Warn("recording audit run failed", zap.Error(err))
	}
}
