// Package retry wraps model invocations with bounded, classified retry.
//
// Failures are classified as rate-limit (exponential backoff, own counter),
// validation (feedback-augmented retry, own counter), or other (retried
// like validation but without feedback). Rate-limit exhaustion degrades to
// "no result" without an error; validation exhaustion returns the last
// error so the caller decides whether to drop the unit of work or raise.
package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/credex-io/credex/internal/llm"
	"github.com/credex-io/credex/internal/schema"
)

// Default bounds, overridable per call site.
const (
	DefaultMaxValidationAttempts = 3
	DefaultMaxRateLimitRetries   = 5
)

// Class is the failure classification driving the retry policy.
type Class int

const (
	ClassValidation Class = iota
	ClassRateLimit
	ClassOther
)

// Classify maps an error to its retry class.
func Classify(err error) Class {
	var rle *llm.RateLimitError
	if errors.As(err, &rle) {
		return ClassRateLimit
	}
	var ve *schema.ValidationError
	if errors.As(err, &ve) {
		return ClassValidation
	}
	return ClassOther
}

// SleepFunc blocks for d or until ctx is cancelled. Injectable for tests.
type SleepFunc func(ctx context.Context, d time.Duration) error

func defaultSleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Controller applies the retry policy to a logical model call. Both
// counters are local to one Do invocation and never shared between
// sibling calls.
type Controller struct {
	MaxValidationAttempts int // validation-classified attempts before giving up
	MaxRateLimitRetries   int // backoff cycles before giving up
	BackoffUnit           time.Duration
	MaxBackoff            time.Duration
	Sleep                 SleepFunc
	Logger                *zap.Logger
}

// New returns a Controller with the default bounds.
func New(logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		MaxValidationAttempts: DefaultMaxValidationAttempts,
		MaxRateLimitRetries:   DefaultMaxRateLimitRetries,
		BackoffUnit:           time.Second,
		MaxBackoff:            60 * time.Second,
		Sleep:                 defaultSleep,
		Logger:                logger,
	}
}

// Op is one logical model call. feedback is empty on the first attempt and
// carries the prior validation error plus its violated constraints on
// validation retries.
type Op[T any] func(ctx context.Context, feedback string) (T, error)

// Do runs op under the controller's policy.
//
// Returns (value, true, nil) on success. Rate-limit exhaustion returns
// (zero, false, nil): an expected, recoverable absence. Validation (or
// other) exhaustion returns (zero, false, lastErr).
func Do[T any](ctx context.Context, c *Controller, op Op[T]) (T, bool, error) {
	var zero T

	maxValidation := c.MaxValidationAttempts
	if maxValidation <= 0 {
		maxValidation = DefaultMaxValidationAttempts
	}
	maxRateLimit := c.MaxRateLimitRetries
	if maxRateLimit <= 0 {
		maxRateLimit = DefaultMaxRateLimitRetries
	}
	unit := c.BackoffUnit
	if unit <= 0 {
		unit = time.Second
	}
	maxBackoff := c.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 60 * time.Second
	}
	sleep := c.Sleep
	if sleep == nil {
		sleep = defaultSleep
	}
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		validationCount int
		rateLimitCount  int
		feedback        string
	)

	for {
		if err := ctx.Err(); err != nil {
			return zero, false, err
		}

		v, err := op(ctx, feedback)
		if err == nil {
			return v, true, nil
		}

		switch Classify(err) {
		case ClassRateLimit:
			rateLimitCount++
			if rateLimitCount > maxRateLimit {
				logger.Warn("rate limit retries exhausted, giving up without result",
					zap.Int("backoff_cycles", maxRateLimit))
				return zero, false, nil
			}
			wait := backoffFor(rateLimitCount, unit, maxBackoff)
			var rle *llm.RateLimitError
			if errors.As(err, &rle) && rle.RetryAfter > wait {
				wait = rle.RetryAfter
			}
			logger.Debug("rate limited, backing off",
				zap.Duration("wait", wait), zap.Int("cycle", rateLimitCount))
			if serr := sleep(ctx, wait); serr != nil {
				return zero, false, serr
			}

		case ClassValidation:
			validationCount++
			if validationCount >= maxValidation {
				logger.Warn("validation retries exhausted",
					zap.Int("attempts", validationCount), zap.Error(err))
				return zero, false, err
			}
			feedback = Feedback(err)
			logger.Debug("validation failure, retrying with feedback",
				zap.Int("attempt", validationCount), zap.Error(err))

		default:
			validationCount++
			if validationCount >= maxValidation {
				logger.Warn("retries exhausted",
					zap.Int("attempts", validationCount), zap.Error(err))
				return zero, false, err
			}
			logger.Debug("transient failure, retrying",
				zap.Int("attempt", validationCount), zap.Error(err))
		}
	}
}

// backoffFor computes min(2^cycle, cap) in backoff units.
func backoffFor(cycle int, unit, max time.Duration) time.Duration {
	if cycle > 30 {
		return max
	}
	d := unit * time.Duration(1<<uint(cycle))
	if d > max {
		return max
	}
	return d
}

// Feedback renders a validation error into the block appended to a retried
// prompt: the prior error text plus a checklist of violated constraints.
func Feedback(err error) string {
	var sb strings.Builder
	sb.WriteString("Your previous response failed validation: ")
	sb.WriteString(err.Error())

	var ve *schema.ValidationError
	if errors.As(err, &ve) && len(ve.Violations) > 0 {
		sb.WriteString("\n\nMake sure the corrected response satisfies every item below:\n")
		for _, v := range ve.Violations {
			fmt.Fprintf(&sb, "- %s\n", v)
		}
	}
	return sb.String()
}
