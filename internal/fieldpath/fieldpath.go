// Package fieldpath implements the field-addressing mini-language used to
// read and write locations inside an extraction record.
//
// A path is a dotted sequence of segments. Each segment is a bare attribute
// name, an attribute with a positional index ("facilities[0]"), or an
// attribute with a single equality predicate selecting the first matching
// list element ("parties[role='Borrower']"). The grammar is the wire
// contract for downstream field-mapping consumers.
package fieldpath

import (
	"strings"

	"github.com/spf13/cast"
	"go.uber.org/zap"
)

// Object is a record-shaped node addressable by attribute name.
// Field returns the current value: nil for unset, a scalar, an Object,
// or a List. SetField assigns a value, coercing where sensible.
type Object interface {
	Field(name string) (any, bool)
	SetField(name string, value any) error
}

// List is an ordered collection of Objects addressable by index or by a
// single equality predicate. Append materializes a new zero element at the
// end of the list and returns it.
type List interface {
	Len() int
	Index(i int) Object
	Append() Object
}

// SegmentKind distinguishes the three segment forms.
type SegmentKind int

const (
	// KindAttr is a bare attribute segment ("governing_law").
	KindAttr SegmentKind = iota
	// KindIndex is an attribute with a positional index ("facilities[1]").
	KindIndex
	// KindPredicate is an attribute with an equality predicate
	// ("parties[role='Lender']").
	KindPredicate
)

// Segment is one parsed element of a field path.
type Segment struct {
	Kind  SegmentKind
	Attr  string
	Index int    // valid when Kind == KindIndex
	Key   string // predicate attribute, valid when Kind == KindPredicate
	Value string // predicate value, valid when Kind == KindPredicate
}

// Engine parses paths and walks records. The zero value is usable; a logger
// may be attached so malformed segments are reported instead of silently
// degraded.
type Engine struct {
	logger *zap.Logger
}

// New returns an Engine that logs malformed path segments through logger.
func New(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger}
}

// Parse splits a path into segments. Dots inside quoted predicate values do
// not terminate a segment. Malformed bracket syntax is logged and the raw
// segment text is kept as a literal attribute name; callers get nil from
// Get for such paths rather than an error.
func (e *Engine) Parse(path string) []Segment {
	raw := splitSegments(path)
	segs := make([]Segment, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		segs = append(segs, e.parseSegment(r))
	}
	return segs
}

// splitSegments splits on '.' outside brackets and quotes.
func splitSegments(path string) []string {
	var (
		parts   []string
		start   int
		depth   int
		inQuote rune
	)
	for i, c := range path {
		switch {
		case inQuote != 0:
			if c == inQuote {
				inQuote = 0
			}
		case c == '\'' || c == '"':
			inQuote = c
		case c == '[':
			depth++
		case c == ']':
			if depth > 0 {
				depth--
			}
		case c == '.' && depth == 0:
			parts = append(parts, path[start:i])
			start = i + 1
		}
	}
	parts = append(parts, path[start:])
	return parts
}

// parseSegment interprets one raw segment. Anything that does not parse as
// a well-formed index or predicate degrades to a literal attribute lookup.
func (e *Engine) parseSegment(raw string) Segment {
	open := strings.IndexByte(raw, '[')
	if open < 0 {
		return Segment{Kind: KindAttr, Attr: raw}
	}
	close := strings.LastIndexByte(raw, ']')
	if close < open {
		e.logger.Warn("malformed field path segment, treating as literal", zap.String("segment", raw))
		return Segment{Kind: KindAttr, Attr: raw}
	}

	attr := strings.TrimSpace(raw[:open])
	inner := strings.TrimSpace(raw[open+1 : close])
	if attr == "" || inner == "" {
		e.logger.Warn("malformed field path segment, treating as literal", zap.String("segment", raw))
		return Segment{Kind: KindAttr, Attr: raw}
	}

	// Positional index.
	if idx, err := cast.ToIntE(inner); err == nil {
		if idx < 0 {
			e.logger.Warn("negative index in field path segment, treating as literal", zap.String("segment", raw))
			return Segment{Kind: KindAttr, Attr: raw}
		}
		return Segment{Kind: KindIndex, Attr: attr, Index: idx}
	}

	// Single equality predicate: key = 'value' or key = "value".
	eq := strings.IndexByte(inner, '=')
	if eq <= 0 {
		e.logger.Warn("malformed field path segment, treating as literal", zap.String("segment", raw))
		return Segment{Kind: KindAttr, Attr: raw}
	}
	key := strings.TrimSpace(inner[:eq])
	val := strings.TrimSpace(inner[eq+1:])
	val = trimQuotes(val)
	if key == "" {
		e.logger.Warn("malformed field path segment, treating as literal", zap.String("segment", raw))
		return Segment{Kind: KindAttr, Attr: raw}
	}
	return Segment{Kind: KindPredicate, Attr: attr, Key: key, Value: val}
}

func trimQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// Get resolves path against root and returns the addressed value, or nil
// when any segment cannot be resolved (missing attribute, index out of
// range, no predicate match). Absence is never an error.
func (e *Engine) Get(root Object, path string) any {
	segs := e.Parse(path)
	if len(segs) == 0 {
		return nil
	}

	var cur any = root
	for _, seg := range segs {
		obj, ok := cur.(Object)
		if !ok {
			return nil
		}
		val, ok := obj.Field(seg.Attr)
		if !ok || val == nil {
			return nil
		}

		switch seg.Kind {
		case KindAttr:
			cur = val
		case KindIndex:
			list, ok := val.(List)
			if !ok || seg.Index >= list.Len() {
				return nil
			}
			cur = list.Index(seg.Index)
		case KindPredicate:
			list, ok := val.(List)
			if !ok {
				return nil
			}
			match := findMatch(list, seg)
			if match == nil {
				return nil
			}
			cur = match
		}
	}
	return cur
}

// findMatch scans list in order for the first element whose predicate
// attribute equals the predicate value. Comparison is case-insensitive over
// the string form of the attribute, regardless of the underlying type.
func findMatch(list List, seg Segment) Object {
	for i := 0; i < list.Len(); i++ {
		el := list.Index(i)
		v, ok := el.Field(seg.Key)
		if !ok || v == nil {
			continue
		}
		if strings.EqualFold(cast.ToString(v), seg.Value) {
			return el
		}
	}
	return nil
}

// Set resolves path against root and assigns value at the final segment,
// materializing missing intermediate containers along the way: a list
// element is appended when an index addresses the position just past the
// end or a predicate matches nothing. Paths that cannot be materialized
// are logged and left unassigned.
func (e *Engine) Set(root Object, path string, value any) error {
	segs := e.Parse(path)
	if len(segs) == 0 {
		return nil
	}

	var cur any = root
	for i, seg := range segs {
		obj, ok := cur.(Object)
		if !ok {
			e.logger.Warn("field path set addressed a non-object", zap.String("path", path))
			return nil
		}

		last := i == len(segs)-1
		if last && seg.Kind == KindAttr {
			return obj.SetField(seg.Attr, value)
		}

		val, _ := obj.Field(seg.Attr)

		switch seg.Kind {
		case KindAttr:
			if val == nil {
				e.logger.Warn("field path set could not materialize segment", zap.String("path", path), zap.String("segment", seg.Attr))
				return nil
			}
			cur = val
		case KindIndex, KindPredicate:
			list, ok := val.(List)
			if !ok {
				e.logger.Warn("field path set addressed a non-list", zap.String("path", path), zap.String("segment", seg.Attr))
				return nil
			}
			el := e.resolveListElement(list, seg)
			if el == nil {
				e.logger.Warn("field path set could not materialize list element", zap.String("path", path), zap.String("segment", seg.Attr))
				return nil
			}
			if last {
				// Path ends on a list element; nothing scalar to assign.
				e.logger.Warn("field path set ended on a container", zap.String("path", path))
				return nil
			}
			cur = el
		}
	}
	return nil
}

// resolveListElement returns the addressed element, materializing one new
// element when the index equals the current length or when no element
// matches the predicate. A freshly materialized predicate element has its
// predicate attribute pre-assigned so the path remains resolvable.
func (e *Engine) resolveListElement(list List, seg Segment) Object {
	switch seg.Kind {
	case KindIndex:
		if seg.Index < list.Len() {
			return list.Index(seg.Index)
		}
		if seg.Index == list.Len() {
			return list.Append()
		}
		return nil
	case KindPredicate:
		if el := findMatch(list, seg); el != nil {
			return el
		}
		el := list.Append()
		if err := el.SetField(seg.Key, seg.Value); err != nil {
			return nil
		}
		return el
	}
	return nil
}
