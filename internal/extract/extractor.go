// Package extract turns agreement text into structured records by invoking
// the model boundary, one call per chunk for oversized documents and a
// single call otherwise. Every model call runs under the retry controller;
// a chunk whose extraction gives up is logged and dropped, while a
// whole-document failure is surfaced as a typed error.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/credex-io/credex/internal/chunk"
	"github.com/credex-io/credex/internal/llm"
	"github.com/credex-io/credex/internal/merge"
	"github.com/credex-io/credex/internal/metrics"
	"github.com/credex-io/credex/internal/retry"
	"github.com/credex-io/credex/internal/schema"
)

// Input/configuration failures. Always fatal, never retried.
var (
	// ErrEmptyDocument means the chunker produced zero chunks: there is
	// nothing to extract. Raised before any model call.
	ErrEmptyDocument = errors.New("document contains no extractable text")

	// ErrAllChunksFailed means every chunk extraction gave up. Distinct
	// from a single chunk's graceful absence.
	ErrAllChunksFailed = errors.New("no chunk produced a partial record")
)

// Config bounds one extractor instance. Zero values fall back to defaults.
type Config struct {
	MaxChunkChars int // chunk size budget, default chunk.DefaultMaxChars
	Concurrency   int // parallel chunk extractions, default 1 (sequential)
	Temperature   float64
}

// Extractor drives chunked and single-pass extraction.
type Extractor struct {
	provider llm.Provider
	retries  *retry.Controller
	reducer  *merge.Reducer
	cfg      Config
	logger   *zap.Logger
}

// New creates an Extractor. retries may be nil, in which case the default
// bounds apply.
func New(provider llm.Provider, retries *retry.Controller, reducer *merge.Reducer, cfg Config, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retries == nil {
		retries = retry.New(logger)
	}
	if reducer == nil {
		reducer = merge.NewReducer(nil, logger)
	}
	if cfg.MaxChunkChars <= 0 {
		cfg.MaxChunkChars = chunk.DefaultMaxChars
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Extractor{
		provider: provider,
		retries:  retries,
		reducer:  reducer,
		cfg:      cfg,
		logger:   logger,
	}
}

// DocumentResult is the outcome of a whole-document extraction run.
type DocumentResult struct {
	Record     *schema.Record
	ChunkCount int
	Extracted  int
	Dropped    int
	Elapsed    time.Duration
}

// ExtractDocument runs the full pipeline: split into chunks, extract a
// partial record per chunk, reduce to one canonical record, repair and
// validate. Chunks are owned by this invocation and extracted
// independently; results are collected by ordinal before reduction
// regardless of completion order.
func (e *Extractor) ExtractDocument(ctx context.Context, text string) (*DocumentResult, error) {
	start := time.Now()

	chunks := chunk.Split(text, e.cfg.MaxChunkChars)
	if len(chunks) == 0 {
		metrics.IncCounter(metrics.PipelineRunsTotal, "failed")
		return nil, ErrEmptyDocument
	}

	partials, lastErr := e.extractChunks(ctx, chunks)
	if err := ctx.Err(); err != nil {
		metrics.IncCounter(metrics.PipelineRunsTotal, "failed")
		return nil, err
	}
	if len(partials) == 0 {
		metrics.IncCounter(metrics.PipelineRunsTotal, "failed")
		if lastErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrAllChunksFailed, lastErr)
		}
		return nil, ErrAllChunksFailed
	}

	record, err := e.reducer.Reduce(partials)
	if err != nil {
		metrics.IncCounter(metrics.PipelineRunsTotal, "failed")
		return nil, err
	}

	metrics.IncCounter(metrics.PipelineRunsTotal, "ok")
	return &DocumentResult{
		Record:     record,
		ChunkCount: len(chunks),
		Extracted:  len(partials),
		Dropped:    len(chunks) - len(partials),
		Elapsed:    time.Since(start),
	}, nil
}

// extractChunks extracts all chunks, sequentially or with bounded
// parallelism, and returns the surviving partials along with the last
// give-up error for diagnostics.
func (e *Extractor) extractChunks(ctx context.Context, chunks []chunk.Chunk) ([]merge.Partial, error) {
	results := make([]*merge.Partial, len(chunks))
	errs := make([]error, len(chunks))

	if e.cfg.Concurrency <= 1 {
		for i, c := range chunks {
			if ctx.Err() != nil {
				break
			}
			results[i], errs[i] = e.extractChunk(ctx, c)
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.cfg.Concurrency)
		for i, c := range chunks {
			g.Go(func() error {
				results[i], errs[i] = e.extractChunk(gctx, c)
				return nil
			})
		}
		_ = g.Wait()
	}

	var (
		partials []merge.Partial
		lastErr  error
	)
	for i := range results {
		if results[i] != nil {
			partials = append(partials, *results[i])
			metrics.IncCounter(metrics.ChunksTotal, "extracted")
			continue
		}
		metrics.IncCounter(metrics.ChunksTotal, "dropped")
		if errs[i] != nil {
			lastErr = errs[i]
		}
	}
	return partials, lastErr
}

// extractChunk wraps one model call per chunk under the retry controller.
// A given-up chunk returns (nil, err): the caller logs and drops it while
// sibling chunks continue.
func (e *Extractor) extractChunk(ctx context.Context, c chunk.Chunk) (*merge.Partial, error) {
	op := func(ctx context.Context, feedback string) (*schema.Record, error) {
		return e.invoke(ctx, "chunk", buildChunkPrompt(c.Text, c.Section, feedback), validatePartial)
	}

	record, ok, err := retry.Do(ctx, e.retries, op)
	if !ok {
		e.logger.Warn("chunk extraction gave up, dropping chunk",
			zap.Int("ordinal", c.Ordinal),
			zap.String("section", c.Section),
			zap.Error(err))
		return nil, err
	}
	return &merge.Partial{Record: record, Ordinal: c.Ordinal, Section: c.Section}, nil
}

// ExtractSinglePass extracts the whole document in one model call and
// applies full repair and validation inside the retried operation, so a
// structurally invalid response triggers a feedback-augmented retry.
// Give-up is surfaced as an error: the whole-document path raises.
func (e *Extractor) ExtractSinglePass(ctx context.Context, text string) (*schema.Record, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyDocument
	}

	op := func(ctx context.Context, feedback string) (*schema.Record, error) {
		return e.invoke(ctx, "document", buildDocumentPrompt(text, feedback), schema.Finalize)
	}

	record, ok, err := retry.Do(ctx, e.retries, op)
	if !ok {
		if err != nil {
			return nil, fmt.Errorf("single-pass extraction: %w", err)
		}
		return nil, fmt.Errorf("single-pass extraction: gave up after rate limiting")
	}
	return record, nil
}

// invoke performs one model call and parses/checks the response. check is
// the structural gate appropriate to the operation: full validation for
// single-pass, the partial-record gate for chunks.
func (e *Extractor) invoke(ctx context.Context, operation, prompt string, check func(*schema.Record) (*schema.Record, error)) (*schema.Record, error) {
	start := time.Now()
	content, err := e.provider.Complete(ctx, prompt, llm.CompletionOpts{
		System:      systemPrompt,
		Temperature: e.cfg.Temperature,
		JSON:        true,
	})
	if metrics.ModelCallDuration != nil {
		metrics.ModelCallDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		metrics.IncCounter(metrics.ModelCallsTotal, operation, outcomeFor(err))
		return nil, err
	}

	record, err := parseRecord(content)
	if err != nil {
		metrics.IncCounter(metrics.ModelCallsTotal, operation, "validation_failed")
		return nil, err
	}
	checked, err := check(record)
	if err != nil {
		metrics.IncCounter(metrics.ModelCallsTotal, operation, "validation_failed")
		return nil, err
	}
	metrics.IncCounter(metrics.ModelCallsTotal, operation, "success")
	return checked, nil
}

func outcomeFor(err error) string {
	switch retry.Classify(err) {
	case retry.ClassRateLimit:
		return "rate_limited"
	case retry.ClassValidation:
		return "validation_failed"
	default:
		return "error"
	}
}

// parseRecord decodes the model's JSON response into a record. Code fences
// are tolerated; anything else unparseable is a validation-class failure
// so the retry controller feeds the error back.
func parseRecord(content string) (*schema.Record, error) {
	cleaned := stripCodeFences(strings.TrimSpace(content))

	var record schema.Record
	if err := json.Unmarshal([]byte(cleaned), &record); err != nil {
		return nil, &schema.ValidationError{
			Violations: []string{fmt.Sprintf("response is not valid JSON: %v", err)},
		}
	}
	return &record, nil
}

// validatePartial is the structural gate for per-chunk results. Partials
// are intentionally incomplete, so the only requirement is that the model
// extracted something at all.
func validatePartial(r *schema.Record) (*schema.Record, error) {
	if len(r.Parties) > 0 || len(r.Facilities) > 0 {
		return r, nil
	}
	for _, name := range schema.ScalarFieldNames {
		if v, _ := r.Field(name); v != nil {
			return r, nil
		}
	}
	return nil, &schema.ValidationError{
		Violations: []string{"extraction produced an empty record; extract at least one stated field"},
	}
}

// stripCodeFences removes markdown code fences around a JSON payload.
func stripCodeFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	var (
		cleaned []string
		inBlock bool
	)
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inBlock = !inBlock
			continue
		}
		if inBlock {
			cleaned = append(cleaned, line)
		}
	}
	return strings.Join(cleaned, "\n")
}
