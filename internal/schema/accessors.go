package schema

import (
	"fmt"

	"github.com/spf13/cast"

	"github.com/credex-io/credex/internal/fieldpath"
)

// The aggregate implements the fieldpath accessor interfaces directly, so
// path evaluation needs no reflection. Attribute names match the JSON tags.

var (
	_ fieldpath.Object = (*Record)(nil)
	_ fieldpath.Object = (*Party)(nil)
	_ fieldpath.Object = (*Facility)(nil)
	_ fieldpath.List   = partyList{}
	_ fieldpath.List   = facilityList{}
)

// Field implements fieldpath.Object for the record root.
func (r *Record) Field(name string) (any, bool) {
	switch name {
	case "agreement_title":
		return derefString(r.AgreementTitle), true
	case "agreement_date":
		return derefDate(r.AgreementDate), true
	case "effective_date":
		return derefDate(r.EffectiveDate), true
	case "maturity_date":
		return derefDate(r.MaturityDate), true
	case "governing_law":
		return derefString(r.GoverningLaw), true
	case "currency":
		return derefString(r.Currency), true
	case "total_commitments":
		if r.TotalCommitments == nil {
			return nil, true
		}
		return *r.TotalCommitments, true
	case "purpose":
		return derefString(r.Purpose), true
	case "status":
		if r.Status == "" {
			return nil, true
		}
		return string(r.Status), true
	case "parties":
		return partyList{items: &r.Parties}, true
	case "facilities":
		return facilityList{items: &r.Facilities}, true
	}
	return nil, false
}

// SetField implements fieldpath.Object for the record root.
func (r *Record) SetField(name string, value any) error {
	switch name {
	case "agreement_title":
		return assignString(&r.AgreementTitle, value)
	case "agreement_date":
		return assignDate(&r.AgreementDate, value)
	case "effective_date":
		return assignDate(&r.EffectiveDate, value)
	case "maturity_date":
		return assignDate(&r.MaturityDate, value)
	case "governing_law":
		return assignString(&r.GoverningLaw, value)
	case "currency":
		return assignString(&r.Currency, value)
	case "total_commitments":
		return assignMoney(&r.TotalCommitments, value)
	case "purpose":
		return assignString(&r.Purpose, value)
	case "status":
		if value == nil {
			r.Status = ""
			return nil
		}
		s, err := cast.ToStringE(value)
		if err != nil {
			return fmt.Errorf("status: %w", err)
		}
		r.Status = Status(s)
		return nil
	}
	return fmt.Errorf("unknown record field %q", name)
}

// Field implements fieldpath.Object for a party.
func (p *Party) Field(name string) (any, bool) {
	switch name {
	case "name":
		if p.Name == "" {
			return nil, true
		}
		return p.Name, true
	case "role":
		return derefString(p.Role), true
	case "lei":
		return derefString(p.LEI), true
	case "jurisdiction":
		return derefString(p.Jurisdiction), true
	case "address":
		return derefString(p.Address), true
	}
	return nil, false
}

// SetField implements fieldpath.Object for a party.
func (p *Party) SetField(name string, value any) error {
	switch name {
	case "name":
		if value == nil {
			p.Name = ""
			return nil
		}
		s, err := cast.ToStringE(value)
		if err != nil {
			return fmt.Errorf("party name: %w", err)
		}
		p.Name = s
		return nil
	case "role":
		return assignString(&p.Role, value)
	case "lei":
		return assignString(&p.LEI, value)
	case "jurisdiction":
		return assignString(&p.Jurisdiction, value)
	case "address":
		return assignString(&p.Address, value)
	}
	return fmt.Errorf("unknown party field %q", name)
}

// Field implements fieldpath.Object for a facility.
func (f *Facility) Field(name string) (any, bool) {
	switch name {
	case "name":
		if f.Name == "" {
			return nil, true
		}
		return f.Name, true
	case "type":
		return derefString(f.Type), true
	case "commitment":
		if f.Commitment == nil {
			return nil, true
		}
		return *f.Commitment, true
	case "currency":
		return derefString(f.Currency), true
	case "maturity_date":
		return derefDate(f.MaturityDate), true
	case "margin":
		if f.Margin == nil {
			return nil, true
		}
		return *f.Margin, true
	}
	return nil, false
}

// SetField implements fieldpath.Object for a facility.
func (f *Facility) SetField(name string, value any) error {
	switch name {
	case "name":
		if value == nil {
			f.Name = ""
			return nil
		}
		s, err := cast.ToStringE(value)
		if err != nil {
			return fmt.Errorf("facility name: %w", err)
		}
		f.Name = s
		return nil
	case "type":
		return assignString(&f.Type, value)
	case "commitment":
		return assignMoney(&f.Commitment, value)
	case "currency":
		return assignString(&f.Currency, value)
	case "maturity_date":
		return assignDate(&f.MaturityDate, value)
	case "margin":
		if value == nil {
			f.Margin = nil
			return nil
		}
		v, err := cast.ToFloat64E(value)
		if err != nil {
			return fmt.Errorf("facility margin: %w", err)
		}
		f.Margin = &v
		return nil
	}
	return fmt.Errorf("unknown facility field %q", name)
}

type partyList struct {
	items *[]Party
}

func (l partyList) Len() int                     { return len(*l.items) }
func (l partyList) Index(i int) fieldpath.Object { return &(*l.items)[i] }
func (l partyList) Append() fieldpath.Object {
	*l.items = append(*l.items, Party{})
	return &(*l.items)[len(*l.items)-1]
}

type facilityList struct {
	items *[]Facility
}

func (l facilityList) Len() int                     { return len(*l.items) }
func (l facilityList) Index(i int) fieldpath.Object { return &(*l.items)[i] }
func (l facilityList) Append() fieldpath.Object {
	*l.items = append(*l.items, Facility{})
	return &(*l.items)[len(*l.items)-1]
}

func derefString(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

func derefDate(d *Date) any {
	if d == nil || d.IsZero() {
		return nil
	}
	return *d
}

func assignString(dst **string, value any) error {
	if value == nil {
		*dst = nil
		return nil
	}
	s, err := cast.ToStringE(value)
	if err != nil {
		return err
	}
	if s == "" {
		*dst = nil
		return nil
	}
	*dst = &s
	return nil
}

func assignDate(dst **Date, value any) error {
	if value == nil {
		*dst = nil
		return nil
	}
	switch v := value.(type) {
	case Date:
		if v.IsZero() {
			*dst = nil
			return nil
		}
		*dst = &v
		return nil
	case *Date:
		*dst = cloneDate(v)
		return nil
	}
	s, err := cast.ToStringE(value)
	if err != nil {
		return err
	}
	d, err := ParseDate(s)
	if err != nil {
		return err
	}
	*dst = &d
	return nil
}

func assignMoney(dst **Money, value any) error {
	if value == nil {
		*dst = nil
		return nil
	}
	switch v := value.(type) {
	case Money:
		*dst = &v
		return nil
	case *Money:
		*dst = cloneMoney(v)
		return nil
	}
	amount, err := cast.ToFloat64E(value)
	if err != nil {
		return fmt.Errorf("money value: %w", err)
	}
	*dst = &Money{Amount: amount}
	return nil
}
