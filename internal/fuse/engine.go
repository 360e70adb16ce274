// Package fuse merges full-document records extracted from independent
// channels (direct text, prior-document retrieval, image OCR, audio
// transcript) into one final record.
//
// Sources carry a fixed priority (text > document > image > audio) and a
// confidence score. Field-level conflicts are resolved deterministically
// where a rule applies; a holistic model-based re-merge runs when
// conflicts remain or the deterministic result fails validation. Every
// conflict is retained as a ConflictRecord for audit.
package fuse

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/credex-io/credex/internal/fieldpath"
	"github.com/credex-io/credex/internal/llm"
	"github.com/credex-io/credex/internal/metrics"
	"github.com/credex-io/credex/internal/retry"
	"github.com/credex-io/credex/internal/schema"
)

// ErrNoSources means fuse was called with nothing to merge. Always fatal.
var ErrNoSources = errors.New("no sources to fuse")

// Method tags how the final record was produced.
type Method string

const (
	MethodSingleSource  Method = "single_source"
	MethodDeterministic Method = "deterministic"
	MethodModelBased    Method = "model_based"
	MethodModelFallback Method = "model_fallback"
)

// Resolution methods recorded per conflict.
const (
	ResolutionDeterministic = "deterministic"
	ResolutionModelBased    = "model_based"
	ResolutionUnresolved    = "unresolved"
)

// Source pairs a full-document record with its channel descriptor.
type Source struct {
	Record     *schema.Record
	Descriptor schema.SourceDescriptor
}

// CandidateValue is one competing value tagged with its source.
type CandidateValue struct {
	Value  any
	Source schema.SourceDescriptor
}

// ConflictRecord captures a disagreement between sources on one field.
// It is transient diagnostic output, never part of the record itself.
type ConflictRecord struct {
	FieldPath  string
	Values     []CandidateValue
	Resolution string
	Resolved   any
}

// Result is the fusion outcome.
type Result struct {
	Record    *schema.Record
	Conflicts []ConflictRecord
	Method    Method
}

// Engine performs the cross-source merge. provider may be nil, which
// disables the model-based re-merge; a deterministic result that fails
// validation then surfaces the validation error.
type Engine struct {
	paths    *fieldpath.Engine
	provider llm.Provider
	retries  *retry.Controller
	logger   *zap.Logger
}

// New creates a fusion engine.
func New(paths *fieldpath.Engine, provider llm.Provider, retries *retry.Controller, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if paths == nil {
		paths = fieldpath.New(logger)
	}
	if retries == nil {
		retries = retry.New(logger)
	}
	return &Engine{paths: paths, provider: provider, retries: retries, logger: logger}
}

// Fuse merges sources into one record.
func (e *Engine) Fuse(ctx context.Context, sources []Source) (*Result, error) {
	switch len(sources) {
	case 0:
		return nil, ErrNoSources
	case 1:
		return &Result{
			Record: sources[0].Record.Clone(),
			Method: MethodSingleSource,
		}, nil
	}

	ordered := orderByPriority(sources)

	out := &schema.Record{}
	conflicts := e.mergeScalars(out, ordered)
	conflicts = append(conflicts, e.mergeParties(out, ordered)...)
	conflicts = append(conflicts, e.mergeFacilities(out, ordered)...)

	merged, err := schema.Finalize(out)
	if err == nil {
		method := MethodDeterministic
		// The re-merge after a valid deterministic result is opportunistic:
		// any failure keeps the deterministic record.
		if len(conflicts) > 0 && e.provider != nil {
			if remerged, rerr := e.remerge(ctx, ordered); rerr == nil {
				merged = remerged
				method = MethodModelBased
				markResolution(conflicts, ResolutionModelBased)
			} else {
				e.logger.Warn("model re-merge failed, keeping deterministic result", zap.Error(rerr))
			}
		}
		countConflicts(conflicts)
		return &Result{Record: merged, Conflicts: conflicts, Method: method}, nil
	}

	// Deterministic construction failed validation: the re-merge is now a
	// required fallback.
	if e.provider != nil {
		if remerged, rerr := e.remerge(ctx, ordered); rerr == nil {
			markResolution(conflicts, ResolutionModelBased)
			countConflicts(conflicts)
			return &Result{Record: remerged, Conflicts: conflicts, Method: MethodModelFallback}, nil
		} else {
			e.logger.Warn("fallback re-merge failed", zap.Error(rerr))
		}
	}
	markResolution(conflicts, ResolutionUnresolved)
	countConflicts(conflicts)
	return nil, fmt.Errorf("fused record failed validation: %w", err)
}

// orderByPriority sorts sources by channel priority, confidence as the
// tie-break. The input slice is not modified.
func orderByPriority(sources []Source) []Source {
	ordered := make([]Source, len(sources))
	copy(ordered, sources)
	sort.SliceStable(ordered, func(i, j int) bool {
		pi, pj := ordered[i].Descriptor.Type.Priority(), ordered[j].Descriptor.Type.Priority()
		if pi != pj {
			return pi > pj
		}
		return ordered[i].Descriptor.Confidence > ordered[j].Descriptor.Confidence
	})
	return ordered
}

// mergeScalars resolves every scalar field across sources and writes the
// winner into dst through the field path engine.
func (e *Engine) mergeScalars(dst *schema.Record, ordered []Source) []ConflictRecord {
	var conflicts []ConflictRecord

	for _, name := range schema.ScalarFieldNames {
		candidates := collectCandidates(e.paths, ordered, name)
		if len(candidates) == 0 {
			continue
		}

		distinct := distinctValues(candidates)
		if len(distinct) == 1 {
			e.setField(dst, name, candidates[0].Value)
			continue
		}

		resolved := resolveScalar(name, candidates)
		e.setField(dst, name, resolved)
		conflicts = append(conflicts, ConflictRecord{
			FieldPath:  name,
			Values:     candidates,
			Resolution: ResolutionDeterministic,
			Resolved:   resolved,
		})
	}
	return conflicts
}

func (e *Engine) setField(dst *schema.Record, path string, value any) {
	if err := e.paths.Set(dst, path, value); err != nil {
		e.logger.Warn("fusion could not assign field", zap.String("field", path), zap.Error(err))
	}
}

// collectCandidates gathers the non-nil values for one field path from
// every source, in source order.
func collectCandidates(paths *fieldpath.Engine, ordered []Source, path string) []CandidateValue {
	var out []CandidateValue
	for _, src := range ordered {
		if src.Record == nil {
			continue
		}
		if v := paths.Get(src.Record, path); v != nil {
			out = append(out, CandidateValue{Value: v, Source: src.Descriptor})
		}
	}
	return out
}

// distinctValues reduces candidates to their distinct values under the
// pipeline's lenient equality.
func distinctValues(candidates []CandidateValue) []any {
	var distinct []any
	for _, c := range candidates {
		seen := false
		for _, d := range distinct {
			if valuesEqual(c.Value, d) {
				seen = true
				break
			}
		}
		if !seen {
			distinct = append(distinct, c.Value)
		}
	}
	return distinct
}

// valuesEqual compares two field values: dates by instant, money by amount
// and currency, everything else as case-insensitive trimmed strings.
func valuesEqual(a, b any) bool {
	if ad, ok := a.(schema.Date); ok {
		bd, ok := b.(schema.Date)
		return ok && ad.Equal(bd.Time)
	}
	if am, ok := a.(schema.Money); ok {
		bm, ok := b.(schema.Money)
		return ok && am.Equal(bm)
	}
	return strings.EqualFold(strings.TrimSpace(cast.ToString(a)), strings.TrimSpace(cast.ToString(b)))
}

// resolveScalar applies the deterministic conflict rules: most recent date
// for date fields, highest-confidence source for money fields, and
// highest-priority source (candidates are already in priority order) for
// everything else.
func resolveScalar(name string, candidates []CandidateValue) any {
	switch {
	case schema.DateFieldNames[name]:
		best := candidates[0]
		for _, c := range candidates[1:] {
			bd, bok := best.Value.(schema.Date)
			cd, cok := c.Value.(schema.Date)
			if bok && cok && cd.After(bd.Time) {
				best = c
			}
		}
		return best.Value

	case schema.MoneyFieldNames[name]:
		best := candidates[0]
		for _, c := range candidates[1:] {
			if c.Source.Confidence > best.Source.Confidence {
				best = c
			}
		}
		return best.Value

	default:
		return candidates[0].Value
	}
}

// mergeParties merges party entities across sources by natural key in
// priority order, with the reducer's first-non-nil-wins attribute rule.
// Disagreements on populated attributes become conflict records addressed
// by predicate field paths.
func (e *Engine) mergeParties(dst *schema.Record, ordered []Source) []ConflictRecord {
	var conflicts []ConflictRecord
	attrs := []string{"role", "lei", "jurisdiction", "address"}

	for _, src := range ordered {
		if src.Record == nil {
			continue
		}
		for i := range src.Record.Parties {
			p := &src.Record.Parties[i]
			key := schema.NormalizeName(p.Name)
			if key == "" {
				continue
			}
			existing := findExisting(partyObjects(dst), key)
			if existing == nil {
				dst.Parties = append(dst.Parties, *p.Clone())
				continue
			}
			conflicts = append(conflicts, mergeEntityAttrs(existing, p, src.Descriptor,
				fmt.Sprintf("parties[name='%s']", p.Name), attrs)...)
		}
	}
	return conflicts
}

func (e *Engine) mergeFacilities(dst *schema.Record, ordered []Source) []ConflictRecord {
	var conflicts []ConflictRecord
	attrs := []string{"type", "commitment", "currency", "maturity_date", "margin"}

	for _, src := range ordered {
		if src.Record == nil {
			continue
		}
		for i := range src.Record.Facilities {
			f := &src.Record.Facilities[i]
			key := schema.NormalizeName(f.Name)
			if key == "" {
				continue
			}
			existing := findExisting(facilityObjects(dst), key)
			if existing == nil {
				dst.Facilities = append(dst.Facilities, *f.Clone())
				continue
			}
			conflicts = append(conflicts, mergeEntityAttrs(existing, f, src.Descriptor,
				fmt.Sprintf("facilities[name='%s']", f.Name), attrs)...)
		}
	}
	return conflicts
}

type keyedObject struct {
	key string
	obj fieldpath.Object
}

func partyObjects(r *schema.Record) []keyedObject {
	out := make([]keyedObject, len(r.Parties))
	for i := range r.Parties {
		out[i] = keyedObject{key: schema.NormalizeName(r.Parties[i].Name), obj: &r.Parties[i]}
	}
	return out
}

func facilityObjects(r *schema.Record) []keyedObject {
	out := make([]keyedObject, len(r.Facilities))
	for i := range r.Facilities {
		out[i] = keyedObject{key: schema.NormalizeName(r.Facilities[i].Name), obj: &r.Facilities[i]}
	}
	return out
}

func findExisting(objs []keyedObject, key string) fieldpath.Object {
	for _, o := range objs {
		if o.key == key {
			return o.obj
		}
	}
	return nil
}

// mergeEntityAttrs fills missing attributes on the established entity and
// records a conflict when both sides hold different populated values. The
// established (higher-priority) value wins.
func mergeEntityAttrs(dst, src fieldpath.Object, srcDesc schema.SourceDescriptor, basePath string, attrs []string) []ConflictRecord {
	var conflicts []ConflictRecord
	for _, attr := range attrs {
		sv, _ := src.Field(attr)
		if sv == nil {
			continue
		}
		dv, _ := dst.Field(attr)
		if dv == nil {
			_ = dst.SetField(attr, sv)
			continue
		}
		if valuesEqual(dv, sv) {
			continue
		}
		conflicts = append(conflicts, ConflictRecord{
			FieldPath: basePath + "." + attr,
			Values: []CandidateValue{
				{Value: dv},
				{Value: sv, Source: srcDesc},
			},
			Resolution: ResolutionDeterministic,
			Resolved:   dv,
		})
	}
	return conflicts
}

func markResolution(conflicts []ConflictRecord, resolution string) {
	for i := range conflicts {
		conflicts[i].Resolution = resolution
	}
}

func countConflicts(conflicts []ConflictRecord) {
	for _, c := range conflicts {
		metrics.IncCounter(metrics.FusionConflictsTotal, c.Resolution)
	}
}
