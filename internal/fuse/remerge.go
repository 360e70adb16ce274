package fuse

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/credex-io/credex/internal/llm"
	"github.com/credex-io/credex/internal/retry"
	"github.com/credex-io/credex/internal/schema"
)

const remergeSystemPrompt = `You are a record fusion system for credit agreement extractions.

You are given the same agreement extracted independently from several source channels. The channels are listed most-trustworthy first and each carries a confidence score:

1. text - direct agreement text (highest priority)
2. document - prior-document retrieval
3. image - OCR of a scanned copy
4. audio - call transcript (lowest priority)

Merge them into ONE record:
1. Prefer values from higher-priority channels unless a lower-priority value is clearly more complete or specific
2. For dates, prefer the most recent stated date
3. For amounts, prefer the value from the most confident source
4. Deduplicate parties and facilities that refer to the same entity under different spellings
5. Return ONLY the merged JSON record, no additional text`

// remerge asks the model to holistically merge all source records. The
// call runs under the retry controller and the response must pass full
// repair and validation before it is accepted.
func (e *Engine) remerge(ctx context.Context, ordered []Source) (*schema.Record, error) {
	prompt, err := buildRemergePrompt(ordered)
	if err != nil {
		return nil, err
	}

	op := func(ctx context.Context, feedback string) (*schema.Record, error) {
		full := prompt
		if feedback != "" {
			full += "\n\n" + feedback
		}
		content, err := e.provider.Complete(ctx, full, llm.CompletionOpts{
			System:      remergeSystemPrompt,
			Temperature: 0.1,
			JSON:        true,
		})
		if err != nil {
			return nil, err
		}
		var record schema.Record
		if uerr := json.Unmarshal([]byte(stripFences(content)), &record); uerr != nil {
			return nil, &schema.ValidationError{
				Violations: []string{fmt.Sprintf("re-merge response is not valid JSON: %v", uerr)},
			}
		}
		return schema.Finalize(&record)
	}

	record, ok, rerr := retry.Do(ctx, e.retries, op)
	if !ok {
		if rerr != nil {
			return nil, fmt.Errorf("model re-merge: %w", rerr)
		}
		return nil, fmt.Errorf("model re-merge: gave up after rate limiting")
	}
	return record, nil
}

// buildRemergePrompt renders every source record with an explicit source
// label so the model sees provenance and the fixed priority order.
func buildRemergePrompt(ordered []Source) (string, error) {
	var sb strings.Builder
	sb.WriteString("Merge the following extractions of the same credit agreement. Sources are listed in priority order.\n")

	for i, src := range ordered {
		blob, err := json.MarshalIndent(src.Record, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshaling source %d: %w", i, err)
		}
		fmt.Fprintf(&sb, "\nSOURCE %d [%s]:\n%s\n", i+1, src.Descriptor, blob)
	}

	sb.WriteString("\nReturn the single merged JSON record.")
	return sb.String(), nil
}

// stripFences removes markdown code fences around a JSON payload.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
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
