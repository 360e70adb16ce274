// Package merge combines the partial records extracted from one document's
// chunks into a single canonical record.
//
// Scalars take the first non-nil value in chunk-ordinal order, on the
// assumption that governing clauses and defined terms appear early in an
// agreement. Repeatable entities are deduplicated by their normalized-name
// natural key; later occurrences only fill attributes still missing on the
// established entity.
package merge

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/credex-io/credex/internal/fieldpath"
	"github.com/credex-io/credex/internal/schema"
)

// Partial is a record-shaped but intentionally incomplete value produced
// from one chunk. Section is provenance for diagnostics only.
type Partial struct {
	Record  *schema.Record
	Ordinal int
	Section string
}

// partyAttrs and facilityAttrs are the fillable entity attributes, walked
// through the fieldpath accessors.
var (
	partyAttrs    = []string{"role", "lei", "jurisdiction", "address"}
	facilityAttrs = []string{"type", "commitment", "currency", "maturity_date", "margin"}
)

// Reducer performs the intra-document merge.
type Reducer struct {
	paths  *fieldpath.Engine
	logger *zap.Logger
}

// NewReducer returns a Reducer evaluating fields through paths.
func NewReducer(paths *fieldpath.Engine, logger *zap.Logger) *Reducer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if paths == nil {
		paths = fieldpath.New(logger)
	}
	return &Reducer{paths: paths, logger: logger}
}

// Reduce merges partials into one canonical record and applies the same
// repair and validation a single-pass extraction result would get. The
// input order does not matter; partials are consumed by ordinal.
func (r *Reducer) Reduce(partials []Partial) (*schema.Record, error) {
	if len(partials) == 0 {
		return nil, fmt.Errorf("no partial records to merge")
	}

	sorted := make([]Partial, len(partials))
	copy(sorted, partials)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Ordinal < sorted[j].Ordinal })

	out := &schema.Record{}
	for _, part := range sorted {
		if part.Record == nil {
			continue
		}
		r.mergeScalars(out, part.Record)
		r.mergeParties(out, part.Record)
		r.mergeFacilities(out, part.Record)
	}

	merged, err := schema.Finalize(out)
	if err != nil {
		return nil, fmt.Errorf("merged record from %d partials: %w", len(sorted), err)
	}
	return merged, nil
}

// mergeScalars copies each scalar field from src into dst when dst does
// not have it yet. Earlier chunks win by construction.
func (r *Reducer) mergeScalars(dst, src *schema.Record) {
	for _, name := range schema.ScalarFieldNames {
		if r.paths.Get(dst, name) != nil {
			continue
		}
		if v := r.paths.Get(src, name); v != nil {
			if err := r.paths.Set(dst, name, v); err != nil {
				r.logger.Warn("scalar merge failed", zap.String("field", name), zap.Error(err))
			}
		}
	}
}

func (r *Reducer) mergeParties(dst, src *schema.Record) {
	for _, p := range src.Parties {
		key := schema.NormalizeName(p.Name)
		if key == "" {
			continue
		}
		existing := findParty(dst, key)
		if existing == nil {
			dst.Parties = append(dst.Parties, *p.Clone())
			continue
		}
		fillMissing(existing, &p, partyAttrs)
	}
}

func (r *Reducer) mergeFacilities(dst, src *schema.Record) {
	for _, f := range src.Facilities {
		key := schema.NormalizeName(f.Name)
		if key == "" {
			continue
		}
		existing := findFacility(dst, key)
		if existing == nil {
			dst.Facilities = append(dst.Facilities, *f.Clone())
			continue
		}
		fillMissing(existing, &f, facilityAttrs)
	}
}

func findParty(r *schema.Record, key string) *schema.Party {
	for i := range r.Parties {
		if schema.NormalizeName(r.Parties[i].Name) == key {
			return &r.Parties[i]
		}
	}
	return nil
}

func findFacility(r *schema.Record, key string) *schema.Facility {
	for i := range r.Facilities {
		if schema.NormalizeName(r.Facilities[i].Name) == key {
			return &r.Facilities[i]
		}
	}
	return nil
}

// fillMissing copies attrs from src into dst where dst has no value yet.
// A populated attribute is never overwritten.
func fillMissing(dst, src fieldpath.Object, attrs []string) {
	for _, attr := range attrs {
		if cur, _ := dst.Field(attr); cur != nil {
			continue
		}
		if v, _ := src.Field(attr); v != nil {
			_ = dst.SetField(attr, v)
		}
	}
}
