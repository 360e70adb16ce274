package schema

import (
	"fmt"
	"strings"
)

// ValidationError carries the structural constraints a record violated.
// The violation list is fed back into retried model calls verbatim.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("record failed validation: %s", strings.Join(e.Violations, "; "))
}

// Date sanity window. Anything outside is treated as an extraction artifact
// and nulled out by Repair rather than failing validation.
const (
	minPlausibleYear = 1900
	maxPlausibleYear = 2100
)

// coreFields are the scalar fields whose absence downgrades Status to
// partial instead of failing validation.
var coreFields = []string{"agreement_date", "currency", "total_commitments"}

// Repair returns a cleaned copy of r: implausible dates are nulled,
// currency codes are upper-cased and trimmed, entity names are trimmed and
// empty entities dropped, and Status is recomputed from core field
// presence. Repair never mutates its input.
func Repair(r *Record) *Record {
	out := r.Clone()

	out.AgreementDate = repairDate(out.AgreementDate)
	out.EffectiveDate = repairDate(out.EffectiveDate)
	out.MaturityDate = repairDate(out.MaturityDate)
	out.Currency = repairCurrency(out.Currency)
	if out.TotalCommitments != nil {
		out.TotalCommitments.Currency = normalizeCurrency(out.TotalCommitments.Currency)
	}

	parties := out.Parties[:0]
	for _, p := range out.Parties {
		p.Name = strings.Join(strings.Fields(p.Name), " ")
		if p.Name == "" {
			continue
		}
		parties = append(parties, p)
	}
	out.Parties = parties

	facilities := out.Facilities[:0]
	for _, f := range out.Facilities {
		f.Name = strings.Join(strings.Fields(f.Name), " ")
		if f.Name == "" {
			continue
		}
		f.MaturityDate = repairDate(f.MaturityDate)
		f.Currency = repairCurrency(f.Currency)
		if f.Commitment != nil {
			f.Commitment.Currency = normalizeCurrency(f.Commitment.Currency)
		}
		facilities = append(facilities, f)
	}
	out.Facilities = facilities

	if out.Status != StatusFailed {
		out.Status = StatusComplete
		for _, name := range coreFields {
			if v, _ := out.Field(name); v == nil {
				out.Status = StatusPartial
				break
			}
		}
	}

	return out
}

func repairDate(d *Date) *Date {
	if d == nil || d.IsZero() {
		return nil
	}
	if y := d.Year(); y < minPlausibleYear || y > maxPlausibleYear {
		return nil
	}
	return d
}

func repairCurrency(c *string) *string {
	if c == nil {
		return nil
	}
	norm := normalizeCurrency(*c)
	if norm == "" {
		return nil
	}
	return &norm
}

func normalizeCurrency(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}

// Validate applies the structural invariants every merged record must
// satisfy: at least one party, at least one facility, internally
// consistent dates and currencies. It returns a *ValidationError listing
// every violation, or nil.
func Validate(r *Record) error {
	var violations []string

	if len(r.Parties) == 0 {
		violations = append(violations, "at least one party is required")
	}
	if len(r.Facilities) == 0 {
		violations = append(violations, "at least one facility is required")
	}

	for i, p := range r.Parties {
		if strings.TrimSpace(p.Name) == "" {
			violations = append(violations, fmt.Sprintf("party %d has an empty name", i))
		}
	}

	if r.AgreementDate != nil && r.EffectiveDate != nil && r.EffectiveDate.Before(r.AgreementDate.Time) {
		violations = append(violations, "effective_date precedes agreement_date")
	}
	if r.EffectiveDate != nil && r.MaturityDate != nil && !r.MaturityDate.After(r.EffectiveDate.Time) {
		violations = append(violations, "maturity_date must follow effective_date")
	}

	if r.Currency != nil && !isCurrencyCode(*r.Currency) {
		violations = append(violations, fmt.Sprintf("currency %q is not a 3-letter code", *r.Currency))
	}
	if r.Currency != nil && r.TotalCommitments != nil && r.TotalCommitments.Currency != "" &&
		!strings.EqualFold(*r.Currency, r.TotalCommitments.Currency) {
		violations = append(violations, fmt.Sprintf(
			"total_commitments currency %q does not match agreement currency %q",
			r.TotalCommitments.Currency, *r.Currency))
	}

	for i, f := range r.Facilities {
		if strings.TrimSpace(f.Name) == "" {
			violations = append(violations, fmt.Sprintf("facility %d has an empty name", i))
		}
		if f.Currency != nil && f.Commitment != nil && f.Commitment.Currency != "" &&
			!strings.EqualFold(*f.Currency, f.Commitment.Currency) {
			violations = append(violations, fmt.Sprintf(
				"facility %q commitment currency %q does not match facility currency %q",
				f.Name, f.Commitment.Currency, *f.Currency))
		}
		if f.MaturityDate != nil && r.EffectiveDate != nil && f.MaturityDate.Before(r.EffectiveDate.Time) {
			violations = append(violations, fmt.Sprintf("facility %q matures before the effective date", f.Name))
		}
	}

	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

func isCurrencyCode(c string) bool {
	if len(c) != 3 {
		return false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// Finalize runs the repair pass and then the hard structural check,
// returning the repaired record on success.
func Finalize(r *Record) (*Record, error) {
	repaired := Repair(r)
	if err := Validate(repaired); err != nil {
		return nil, err
	}
	return repaired, nil
}
