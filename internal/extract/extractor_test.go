package extract

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/credex-io/credex/internal/llm"
	"github.com/credex-io/credex/internal/retry"
)

// fakeProvider answers each prompt through respond, recording every prompt
// it saw. Safe for the sequential extraction paths exercised here.
type fakeProvider struct {
	respond func(prompt string) (string, error)
	prompts []string
}

func (f *fakeProvider) Complete(_ context.Context, prompt string, _ llm.CompletionOpts) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.respond(prompt)
}

func (f *fakeProvider) Name() string { return "fake" }

func noSleepController() *retry.Controller {
	c := retry.New(zap.NewNop())
	c.Sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

const (
	chunkAResponse = `{"governing_law":"New York","parties":[{"name":"Acme Corp","role":"Borrower"}]}`
	chunkBResponse = `{"currency":"USD","facilities":[{"name":"Term Loan A"}]}`
	fullResponse   = `{"currency":"USD","parties":[{"name":"Acme Corp","role":"Borrower"}],"facilities":[{"name":"Term Loan A"}]}`
)

// twoChunkText splits into exactly two chunks under a 60-char budget.
const twoChunkText = "alpha paragraph describing the governing law clause.\n\n" +
	"beta paragraph describing the term loan facility."

func TestExtractDocument_EmptyInputFailsBeforeModelCall(t *testing.T) {
	p := &fakeProvider{respond: func(string) (string, error) {
		t.Fatal("model called for an empty document")
		return "", nil
	}}
	e := New(p, noSleepController(), nil, Config{}, zap.NewNop())

	for _, text := range []string{"", "   \n\t\n"} {
		_, err := e.ExtractDocument(context.Background(), text)
		if !errors.Is(err, ErrEmptyDocument) {
			t.Errorf("ExtractDocument(%q) err = %v, want ErrEmptyDocument", text, err)
		}
	}
	if len(p.prompts) != 0 {
		t.Errorf("provider saw %d prompts, want 0", len(p.prompts))
	}
}

func TestExtractDocument_MergesChunkPartials(t *testing.T) {
	p := &fakeProvider{respond: func(prompt string) (string, error) {
		if strings.Contains(prompt, "alpha") {
			return chunkAResponse, nil
		}
		return chunkBResponse, nil
	}}
	e := New(p, noSleepController(), nil, Config{MaxChunkChars: 60}, zap.NewNop())

	res, err := e.ExtractDocument(context.Background(), twoChunkText)
	if err != nil {
		t.Fatalf("ExtractDocument: %v", err)
	}
	if res.ChunkCount != 2 || res.Extracted != 2 || res.Dropped != 0 {
		t.Errorf("counts = %d chunks / %d extracted / %d dropped, want 2/2/0",
			res.ChunkCount, res.Extracted, res.Dropped)
	}
	r := res.Record
	if r.GoverningLaw == nil || *r.GoverningLaw != "New York" {
		t.Errorf("governing_law = %v", r.GoverningLaw)
	}
	if r.Currency == nil || *r.Currency != "USD" {
		t.Errorf("currency = %v", r.Currency)
	}
	if len(r.Parties) != 1 || len(r.Facilities) != 1 {
		t.Errorf("entities = %d parties / %d facilities, want 1/1", len(r.Parties), len(r.Facilities))
	}
}

func TestExtractDocument_DropsFailingChunkAndContinues(t *testing.T) {
	p := &fakeProvider{respond: func(prompt string) (string, error) {
		if strings.Contains(prompt, "alpha") {
			return "this is not json", nil
		}
		return fullResponse, nil
	}}
	e := New(p, noSleepController(), nil, Config{MaxChunkChars: 60}, zap.NewNop())

	res, err := e.ExtractDocument(context.Background(), twoChunkText)
	if err != nil {
		t.Fatalf("ExtractDocument: %v", err)
	}
	if res.Extracted != 1 || res.Dropped != 1 {
		t.Errorf("extracted/dropped = %d/%d, want 1/1", res.Extracted, res.Dropped)
	}
	if len(res.Record.Parties) != 1 {
		t.Errorf("got %d parties from the surviving chunk", len(res.Record.Parties))
	}
}

func TestExtractDocument_AllChunksFailed(t *testing.T) {
	p := &fakeProvider{respond: func(string) (string, error) {
		return "non-json garbage", nil
	}}
	e := New(p, noSleepController(), nil, Config{MaxChunkChars: 60}, zap.NewNop())

	_, err := e.ExtractDocument(context.Background(), twoChunkText)
	if !errors.Is(err, ErrAllChunksFailed) {
		t.Fatalf("err = %v, want ErrAllChunksFailed", err)
	}
}

func TestExtractDocument_EmptyPartialTriggersFeedbackRetry(t *testing.T) {
	calls := 0
	p := &fakeProvider{respond: func(prompt string) (string, error) {
		calls++
		if calls == 1 {
			return "{}", nil
		}
		if !strings.Contains(prompt, "empty record") {
			t.Errorf("retry prompt missing feedback: %q", prompt)
		}
		return fullResponse, nil
	}}
	e := New(p, noSleepController(), nil, Config{}, zap.NewNop())

	res, err := e.ExtractDocument(context.Background(), "a single short agreement paragraph.")
	if err != nil {
		t.Fatalf("ExtractDocument: %v", err)
	}
	if calls != 2 {
		t.Errorf("model called %d times, want 2", calls)
	}
	if res.Extracted != 1 {
		t.Errorf("extracted = %d, want 1", res.Extracted)
	}
}

func TestExtractSinglePass_ValidationRetryWithFeedback(t *testing.T) {
	calls := 0
	p := &fakeProvider{respond: func(prompt string) (string, error) {
		calls++
		if calls == 1 {
			// Valid JSON but structurally incomplete: no facilities.
			return `{"parties":[{"name":"Acme Corp"}]}`, nil
		}
		if !strings.Contains(prompt, "facility") {
			t.Errorf("retry prompt missing the violated constraint: %q", prompt)
		}
		return fullResponse, nil
	}}
	e := New(p, noSleepController(), nil, Config{}, zap.NewNop())

	r, err := e.ExtractSinglePass(context.Background(), "full agreement text.")
	if err != nil {
		t.Fatalf("ExtractSinglePass: %v", err)
	}
	if calls != 2 {
		t.Errorf("model called %d times, want 2", calls)
	}
	if len(r.Facilities) != 1 {
		t.Errorf("got %d facilities", len(r.Facilities))
	}
}

func TestExtractSinglePass_StripsCodeFences(t *testing.T) {
	p := &fakeProvider{respond: func(string) (string, error) {
		return "```json\n" + fullResponse + "\n```", nil
	}}
	e := New(p, noSleepController(), nil, Config{}, zap.NewNop())

	r, err := e.ExtractSinglePass(context.Background(), "fenced response agreement.")
	if err != nil {
		t.Fatalf("ExtractSinglePass: %v", err)
	}
	if r.Currency == nil || *r.Currency != "USD" {
		t.Errorf("currency = %v", r.Currency)
	}
}

func TestExtractSinglePass_RateLimitGiveUpIsError(t *testing.T) {
	p := &fakeProvider{respond: func(string) (string, error) {
		return "", &llm.RateLimitError{}
	}}
	e := New(p, noSleepController(), nil, Config{}, zap.NewNop())

	_, err := e.ExtractSinglePass(context.Background(), "rate limited agreement.")
	if err == nil || !strings.Contains(err.Error(), "gave up") {
		t.Fatalf("err = %v, want a give-up error", err)
	}
	if len(p.prompts) != 6 {
		t.Errorf("model called %d times, want 6 (initial + 5 rate limit retries)", len(p.prompts))
	}
}

func TestExtractSinglePass_EmptyInput(t *testing.T) {
	p := &fakeProvider{respond: func(string) (string, error) {
		t.Fatal("model called for empty input")
		return "", nil
	}}
	e := New(p, noSleepController(), nil, Config{}, zap.NewNop())

	if _, err := e.ExtractSinglePass(context.Background(), "  "); !errors.Is(err, ErrEmptyDocument) {
		t.Errorf("err = %v, want ErrEmptyDocument", err)
	}
}
