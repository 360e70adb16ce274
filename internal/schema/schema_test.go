package schema

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func str(s string) *string { return &s }

func date(s string) *Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return &d
}

// validRecord returns a record that passes Validate.
func validRecord() *Record {
	return &Record{
		AgreementTitle:   str("Amended and Restated Credit Agreement"),
		AgreementDate:    date("2024-03-01"),
		EffectiveDate:    date("2024-03-01"),
		MaturityDate:     date("2029-03-01"),
		GoverningLaw:     str("New York"),
		Currency:         str("USD"),
		TotalCommitments: &Money{Amount: 500_000_000, Currency: "USD"},
		Parties: []Party{
			{Name: "Acme Corp", Role: str("Borrower")},
			{Name: "First Bank", Role: str("Administrative Agent")},
		},
		Facilities: []Facility{
			{Name: "Revolving Facility", Commitment: &Money{Amount: 200_000_000, Currency: "USD"}},
		},
	}
}

func TestParseDate_Layouts(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2024-03-01", "2024-03-01"},
		{"March 1, 2024", "2024-03-01"},
		{"1 March 2024", "2024-03-01"},
		{"03/01/2024", "2024-03-01"},
		{"2024/03/01", "2024-03-01"},
		{"  2024-03-01  ", "2024-03-01"},
	}
	for _, tt := range tests {
		d, err := ParseDate(tt.in)
		if err != nil {
			t.Errorf("ParseDate(%q): %v", tt.in, err)
			continue
		}
		if got := d.String(); got != tt.want {
			t.Errorf("ParseDate(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}

	if _, err := ParseDate("the first of March"); err == nil {
		t.Error("ParseDate accepted unparseable input")
	}
}

func TestDate_JSONLenient(t *testing.T) {
	var r Record
	// An unparseable date unmarshals as absent rather than failing the record.
	in := `{"agreement_title":"CA","agreement_date":"sometime in 2024"}`
	if err := json.Unmarshal([]byte(in), &r); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if r.AgreementTitle == nil || *r.AgreementTitle != "CA" {
		t.Error("sibling field lost during lenient date parse")
	}
	if r.AgreementDate != nil && !r.AgreementDate.IsZero() {
		t.Errorf("agreement_date = %v, want zero", r.AgreementDate)
	}
}

func TestDate_MarshalRoundTrip(t *testing.T) {
	d := date("2024-03-01")
	b, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `"2024-03-01"` {
		t.Errorf("Marshal = %s", b)
	}

	var zero Date
	b, _ = json.Marshal(zero)
	if string(b) != "null" {
		t.Errorf("zero date marshals as %s, want null", b)
	}
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Acme Corp", "acme corp"},
		{"  ACME   CORP  ", "acme corp"},
		{"acme\tcorp", "acme corp"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeName(tt.in); got != tt.want {
			t.Errorf("NormalizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSourceType_Priority(t *testing.T) {
	order := []SourceType{SourceText, SourceDocument, SourceImage, SourceAudio, SourceType("video")}
	for i := 0; i < len(order)-1; i++ {
		if order[i].Priority() <= order[i+1].Priority() {
			t.Errorf("%s priority %d not above %s priority %d",
				order[i], order[i].Priority(), order[i+1], order[i+1].Priority())
		}
	}
}

func TestRepair_NullsImplausibleDates(t *testing.T) {
	r := validRecord()
	bad := Date{time.Date(1776, 7, 4, 0, 0, 0, 0, time.UTC)}
	r.AgreementDate = &bad

	out := Repair(r)
	if out.AgreementDate != nil {
		t.Errorf("implausible agreement_date survived repair: %v", out.AgreementDate)
	}
	// Input record is untouched.
	if r.AgreementDate == nil {
		t.Error("Repair mutated its input")
	}
}

func TestRepair_NormalizesCurrencies(t *testing.T) {
	r := validRecord()
	r.Currency = str(" usd ")
	r.TotalCommitments.Currency = "usd"

	out := Repair(r)
	if out.Currency == nil || *out.Currency != "USD" {
		t.Errorf("currency = %v, want USD", out.Currency)
	}
	if out.TotalCommitments.Currency != "USD" {
		t.Errorf("total_commitments currency = %q, want USD", out.TotalCommitments.Currency)
	}
}

func TestRepair_DropsEmptyEntities(t *testing.T) {
	r := validRecord()
	r.Parties = append(r.Parties, Party{Name: "   "})
	r.Facilities = append(r.Facilities, Facility{Name: ""})

	out := Repair(r)
	if len(out.Parties) != 2 {
		t.Errorf("got %d parties, want 2", len(out.Parties))
	}
	if len(out.Facilities) != 1 {
		t.Errorf("got %d facilities, want 1", len(out.Facilities))
	}
}

func TestRepair_StatusFromCoreFields(t *testing.T) {
	r := validRecord()
	if got := Repair(r).Status; got != StatusComplete {
		t.Errorf("full record status = %s, want complete", got)
	}

	r.AgreementDate = nil
	if got := Repair(r).Status; got != StatusPartial {
		t.Errorf("record missing agreement_date status = %s, want partial", got)
	}
}

func TestValidate_AcceptsValidRecord(t *testing.T) {
	if err := Validate(validRecord()); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidate_Violations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Record)
		want   string
	}{
		{
			name:   "no parties",
			mutate: func(r *Record) { r.Parties = nil },
			want:   "at least one party",
		},
		{
			name:   "no facilities",
			mutate: func(r *Record) { r.Facilities = nil },
			want:   "at least one facility",
		},
		{
			name:   "effective before agreement",
			mutate: func(r *Record) { r.EffectiveDate = date("2024-02-01") },
			want:   "effective_date precedes agreement_date",
		},
		{
			name:   "maturity not after effective",
			mutate: func(r *Record) { r.MaturityDate = date("2024-03-01") },
			want:   "maturity_date must follow effective_date",
		},
		{
			name:   "bad currency code",
			mutate: func(r *Record) { r.Currency = str("dollars") },
			want:   "not a 3-letter code",
		},
		{
			name:   "commitment currency mismatch",
			mutate: func(r *Record) { r.TotalCommitments.Currency = "EUR" },
			want:   "does not match agreement currency",
		},
		{
			name: "facility matures before effective date",
			mutate: func(r *Record) {
				early := date("2023-01-01")
				r.Facilities[0].MaturityDate = early
			},
			want: "matures before the effective date",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRecord()
			tt.mutate(r)
			err := Validate(r)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Validate = %v, want *ValidationError", err)
			}
			found := false
			for _, v := range ve.Violations {
				if strings.Contains(v, tt.want) {
					found = true
				}
			}
			if !found {
				t.Errorf("violations %v missing %q", ve.Violations, tt.want)
			}
		})
	}
}

func TestValidate_CollectsAllViolations(t *testing.T) {
	r := &Record{}
	err := Validate(r)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Validate = %v", err)
	}
	if len(ve.Violations) < 2 {
		t.Errorf("got %d violations, want both missing-entity violations", len(ve.Violations))
	}
}

func TestFinalize_RepairsThenValidates(t *testing.T) {
	r := validRecord()
	r.Currency = str(" usd ")
	out, err := Finalize(r)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if *out.Currency != "USD" {
		t.Errorf("currency = %q", *out.Currency)
	}
	if out.Status != StatusComplete {
		t.Errorf("status = %s", out.Status)
	}

	r.Parties = nil
	if _, err := Finalize(r); err == nil {
		t.Error("Finalize accepted a record with no parties")
	}
}

func TestClone_IsDeep(t *testing.T) {
	r := validRecord()
	c := r.Clone()
	*c.Parties[0].Role = "Guarantor"
	c.TotalCommitments.Amount = 1

	if *r.Parties[0].Role != "Borrower" {
		t.Error("clone shares party role pointer with original")
	}
	if r.TotalCommitments.Amount != 500_000_000 {
		t.Error("clone shares total_commitments pointer with original")
	}
}
