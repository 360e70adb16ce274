// Command credex extracts structured credit agreement records from
// document text and fuses records from independent source channels.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/credex-io/credex/internal/audit"
	"github.com/credex-io/credex/internal/config"
	"github.com/credex-io/credex/internal/extract"
	"github.com/credex-io/credex/internal/fieldpath"
	"github.com/credex-io/credex/internal/fuse"
	"github.com/credex-io/credex/internal/llm"
	"github.com/credex-io/credex/internal/mcp"
	"github.com/credex-io/credex/internal/merge"
	"github.com/credex-io/credex/internal/metrics"
	"github.com/credex-io/credex/internal/retry"
	"github.com/credex-io/credex/internal/schema"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "extract":
		if err := runExtract(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "fuse":
		if err := runFuse(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "serve":
		if err := runServe(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "version", "--version", "-v":
		fmt.Printf("credex %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`credex - credit agreement extraction pipeline

Usage:
  credex extract <file>        Extract a structured record from agreement text
  credex fuse <file...>        Fuse per-source records (JSON files named <type>.json
                               or containing {"source_type": ..., "record": ...})
  credex serve                 Serve the extraction tools over MCP stdio
  credex version               Print version

Configuration is read from ~/.credex/config.yaml and CREDEX_* env vars.`)
}

// components wires the pipeline from configuration.
type components struct {
	cfg       config.Config
	logger    *zap.Logger
	extractor *extract.Extractor
	fusion    *fuse.Engine
	audit     *audit.Store
}

func build() (*components, error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, err
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	metrics.Register(prometheus.DefaultRegisterer)

	provider, err := llm.NewProvider(llm.Config{
		Provider: cfg.LLM.Provider,
		Model:    cfg.LLM.Model,
		APIKey:   cfg.LLM.APIKey,
		BaseURL:  cfg.LLM.BaseURL,
		Timeout:  cfg.LLM.Timeout(),
	})
	if err != nil {
		return nil, err
	}

	retries := retry.New(logger)
	retries.MaxValidationAttempts = cfg.Retry.MaxValidationAttempts
	retries.MaxRateLimitRetries = cfg.Retry.MaxRateLimitRetries

	paths := fieldpath.New(logger)
	reducer := merge.NewReducer(paths, logger)
	extractor := extract.New(provider, retries, reducer, extract.Config{
		MaxChunkChars: cfg.Chunking.MaxChars,
		Concurrency:   cfg.Chunking.Concurrency,
		Temperature:   cfg.LLM.Temperature,
	}, logger)
	fusion := fuse.New(paths, provider, retries, logger)

	var auditStore *audit.Store
	if cfg.Audit.DBPath != "" {
		auditStore, err = audit.Open(cfg.Audit.DBPath)
		if err != nil {
			return nil, err
		}
	}

	return &components{
		cfg:       cfg,
		logger:    logger,
		extractor: extractor,
		fusion:    fusion,
		audit:     auditStore,
	}, nil
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runExtract(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: credex extract <file>")
	}

	comps, err := build()
	if err != nil {
		return err
	}
	defer comps.audit.Close()
	defer comps.logger.Sync()

	text, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	result, err := comps.extractor.ExtractDocument(ctx, string(text))
	if err != nil {
		return err
	}

	comps.logger.Info("extraction complete",
		zap.Int("chunks", result.ChunkCount),
		zap.Int("merged", result.Extracted),
		zap.Int("dropped", result.Dropped),
		zap.Duration("elapsed", result.Elapsed))

	return printJSON(result.Record)
}

func runFuse(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: credex fuse <file...>")
	}

	comps, err := build()
	if err != nil {
		return err
	}
	defer comps.audit.Close()
	defer comps.logger.Sync()

	var sources []fuse.Source
	for _, path := range args {
		src, err := readSource(path)
		if err != nil {
			return err
		}
		sources = append(sources, src)
	}

	ctx, cancel := signalContext()
	defer cancel()

	result, err := comps.fusion.Fuse(ctx, sources)
	if err != nil {
		return err
	}

	comps.logger.Info("fusion complete",
		zap.String("method", string(result.Method)),
		zap.Int("conflicts", len(result.Conflicts)))

	return printJSON(struct {
		Record    *schema.Record        `json:"record"`
		Method    fuse.Method           `json:"method"`
		Conflicts []fuse.ConflictRecord `json:"conflicts,omitempty"`
	}{result.Record, result.Method, result.Conflicts})
}

// sourceFile is the on-disk shape for one fusion input.
type sourceFile struct {
	SourceType string         `json:"source_type"`
	SourceID   string         `json:"source_id,omitempty"`
	Confidence float64        `json:"confidence"`
	Record     *schema.Record `json:"record"`
}

func readSource(path string) (fuse.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fuse.Source{}, fmt.Errorf("reading %s: %w", path, err)
	}
	var sf sourceFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return fuse.Source{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	if sf.Record == nil {
		return fuse.Source{}, fmt.Errorf("%s contains no record", path)
	}
	if sf.Confidence == 0 {
		sf.Confidence = 0.5
	}
	return fuse.Source{
		Record: sf.Record,
		Descriptor: schema.SourceDescriptor{
			Type:       schema.SourceType(sf.SourceType),
			SourceID:   sf.SourceID,
			Confidence: sf.Confidence,
		},
	}, nil
}

func runServe() error {
	comps, err := build()
	if err != nil {
		return err
	}
	defer comps.audit.Close()
	defer comps.logger.Sync()

	s := mcp.NewServer(mcp.ServerConfig{
		Extractor: comps.extractor,
		Fusion:    comps.fusion,
		Audit:     comps.audit,
		Version:   version,
		Logger:    comps.logger,
	})
	return mcp.ServeStdio(s)
}

func printJSON(v any) error {
	blob, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	fmt.Println(string(blob))
	return nil
}
