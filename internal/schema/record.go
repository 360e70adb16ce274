// Package schema defines the credit agreement aggregate produced by the
// extraction pipeline, together with its structural validation and the
// repair pass applied before validation.
//
// The aggregate is a fixed set of named scalar fields plus two repeatable
// entity collections (parties and facilities), each deduplicated elsewhere
// by a normalized-name natural key.
package schema

import (
	"fmt"
	"strings"
	"time"
)

// Status marks how complete a merged record is.
type Status string

const (
	StatusComplete Status = "complete"
	StatusPartial  Status = "partial"
	StatusFailed   Status = "failed"
)

// SourceType identifies the channel a full-document record came from.
type SourceType string

const (
	SourceText     SourceType = "text"
	SourceDocument SourceType = "document"
	SourceImage    SourceType = "image"
	SourceAudio    SourceType = "audio"
)

// Priority returns the fixed source ordering used by cross-source fusion:
// text > document > image > audio. Unknown types rank below audio.
func (s SourceType) Priority() int {
	switch s {
	case SourceText:
		return 4
	case SourceDocument:
		return 3
	case SourceImage:
		return 2
	case SourceAudio:
		return 1
	default:
		return 0
	}
}

// SourceDescriptor tags a record with its channel of origin and the
// extractor's confidence in it.
type SourceDescriptor struct {
	Type       SourceType `json:"source_type"`
	SourceID   string     `json:"source_id,omitempty"`
	Confidence float64    `json:"confidence"` // 0..1
}

func (s SourceDescriptor) String() string {
	if s.SourceID == "" {
		return fmt.Sprintf("%s (confidence %.2f)", s.Type, s.Confidence)
	}
	return fmt.Sprintf("%s:%s (confidence %.2f)", s.Type, s.SourceID, s.Confidence)
}

// Date is a calendar date with lenient JSON parsing. Model output carries
// dates in several shapes; anything unparseable unmarshals as the zero
// Date rather than failing the whole record.
type Date struct {
	time.Time
}

// dateLayouts are tried in order when parsing.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"January 2, 2006",
	"2 January 2006",
	"01/02/2006",
	"2006/01/02",
}

// ParseDate parses s using the accepted layouts.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Date{t}, nil
		}
	}
	return Date{}, fmt.Errorf("unrecognized date %q", s)
}

// MarshalJSON renders the date as "2006-01-02".
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.Format("2006-01-02") + `"`), nil
}

// UnmarshalJSON accepts the layouts in dateLayouts, plus null.
func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		*d = Date{}
		return nil
	}
	*d = parsed
	return nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format("2006-01-02")
}

// Money is an amount in a named currency.
type Money struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency,omitempty"`
}

// Equal reports value equality with a case-insensitive currency compare.
func (m Money) Equal(o Money) bool {
	return m.Amount == o.Amount && strings.EqualFold(m.Currency, o.Currency)
}

func (m Money) String() string {
	if m.Currency == "" {
		return fmt.Sprintf("%.2f", m.Amount)
	}
	return fmt.Sprintf("%s %.2f", m.Currency, m.Amount)
}

// Party is a party-like repeatable entity. Name is the natural key after
// normalization.
type Party struct {
	Name         string  `json:"name"`
	Role         *string `json:"role,omitempty"`
	LEI          *string `json:"lei,omitempty"`
	Jurisdiction *string `json:"jurisdiction,omitempty"`
	Address      *string `json:"address,omitempty"`
}

// Facility is a facility-like repeatable entity. Name is the natural key
// after normalization.
type Facility struct {
	Name         string   `json:"name"`
	Type         *string  `json:"type,omitempty"`
	Commitment   *Money   `json:"commitment,omitempty"`
	Currency     *string  `json:"currency,omitempty"`
	MaturityDate *Date    `json:"maturity_date,omitempty"`
	Margin       *float64 `json:"margin,omitempty"`
}

// Record is the credit agreement aggregate. Scalar fields may be nil when
// the source text does not state them; a merged Record must either satisfy
// Validate or carry a downgraded Status.
type Record struct {
	AgreementTitle   *string `json:"agreement_title,omitempty"`
	AgreementDate    *Date   `json:"agreement_date,omitempty"`
	EffectiveDate    *Date   `json:"effective_date,omitempty"`
	MaturityDate     *Date   `json:"maturity_date,omitempty"`
	GoverningLaw     *string `json:"governing_law,omitempty"`
	Currency         *string `json:"currency,omitempty"`
	TotalCommitments *Money  `json:"total_commitments,omitempty"`
	Purpose          *string `json:"purpose,omitempty"`
	Status           Status  `json:"status,omitempty"`

	Parties    []Party    `json:"parties,omitempty"`
	Facilities []Facility `json:"facilities,omitempty"`
}

// ScalarFieldNames lists every scalar field of Record in canonical order.
// The names double as field path attributes.
var ScalarFieldNames = []string{
	"agreement_title",
	"agreement_date",
	"effective_date",
	"maturity_date",
	"governing_law",
	"currency",
	"total_commitments",
	"purpose",
}

// DateFieldNames lists the date-typed scalar fields; fusion resolves
// conflicts on these by recency.
var DateFieldNames = map[string]bool{
	"agreement_date": true,
	"effective_date": true,
	"maturity_date":  true,
}

// MoneyFieldNames lists the money-typed scalar fields; fusion resolves
// conflicts on these by source confidence.
var MoneyFieldNames = map[string]bool{
	"total_commitments": true,
}

// NormalizeName produces the natural key for repeatable entities: trimmed,
// lower-cased, with interior whitespace collapsed.
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := &Record{
		AgreementTitle:   cloneString(r.AgreementTitle),
		AgreementDate:    cloneDate(r.AgreementDate),
		EffectiveDate:    cloneDate(r.EffectiveDate),
		MaturityDate:     cloneDate(r.MaturityDate),
		GoverningLaw:     cloneString(r.GoverningLaw),
		Currency:         cloneString(r.Currency),
		TotalCommitments: cloneMoney(r.TotalCommitments),
		Purpose:          cloneString(r.Purpose),
		Status:           r.Status,
	}
	for i := range r.Parties {
		out.Parties = append(out.Parties, *r.Parties[i].Clone())
	}
	for i := range r.Facilities {
		out.Facilities = append(out.Facilities, *r.Facilities[i].Clone())
	}
	return out
}

// Clone returns a deep copy of the party.
func (p *Party) Clone() *Party {
	return &Party{
		Name:         p.Name,
		Role:         cloneString(p.Role),
		LEI:          cloneString(p.LEI),
		Jurisdiction: cloneString(p.Jurisdiction),
		Address:      cloneString(p.Address),
	}
}

// Clone returns a deep copy of the facility.
func (f *Facility) Clone() *Facility {
	return &Facility{
		Name:         f.Name,
		Type:         cloneString(f.Type),
		Commitment:   cloneMoney(f.Commitment),
		Currency:     cloneString(f.Currency),
		MaturityDate: cloneDate(f.MaturityDate),
		Margin:       cloneFloat(f.Margin),
	}
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneDate(d *Date) *Date {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

func cloneMoney(m *Money) *Money {
	if m == nil {
		return nil
	}
	v := *m
	return &v
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
