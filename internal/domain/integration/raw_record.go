package integration

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// RawRecord is one provider record as decoded from JSON. Numbers are kept as
// json.Number when the decoder runs with UseNumber.
type RawRecord map[string]any

// Field names a logical field and the ordered candidate keys it may appear
// under. Candidates may be dotted paths into nested objects ("customer.name").
type Field struct {
	Name       string
	Candidates []string
}

// NewField creates a field. Without candidates the name itself is the only key.
func NewField(name string, candidates ...string) Field {
	if len(candidates) == 0 {
		candidates = []string{name}
	}
	return Field{Name: name, Candidates: candidates}
}

// Lookup returns the value of the first candidate that is present and not
// null. Blank strings count as absent.
func (r RawRecord) Lookup(f Field) (any, bool) {
	for _, path := range f.Candidates {
		v, ok := r.lookupPath(path)
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			continue
		}
		return v, true
	}
	return nil, false
}

// Has reports whether any candidate of the field is present
func (r RawRecord) Has(f Field) bool {
	_, ok := r.Lookup(f)
	return ok
}

func (r RawRecord) lookupPath(path string) (any, bool) {
	var cur any = map[string]any(r)
	for seg := range strings.SplitSeq(path, ".") {
		m, ok := asObject(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func asObject(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case RawRecord:
		return m, true
	}
	return nil, false
}

// String returns the field as NFC-normalized trimmed text; absent yields "".
// Objects and arrays are not scalar and yield "".
func (r RawRecord) String(f Field) string {
	v, ok := r.Lookup(f)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return norm.NFC.String(strings.TrimSpace(t))
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

// Decimal returns the field as a decimal. Absent or unparsable values yield
// an invalid NullDecimal, never an error.
func (r RawRecord) Decimal(f Field) decimal.NullDecimal {
	v, ok := r.Lookup(f)
	if !ok {
		return decimal.NullDecimal{}
	}
	switch t := v.(type) {
	case json.Number:
		return parseDecimal(t.String())
	case string:
		return parseDecimal(t)
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return decimal.NullDecimal{}
		}
		return decimal.NewNullDecimal(decimal.NewFromFloat(t))
	case int:
		return decimal.NewNullDecimal(decimal.NewFromInt(int64(t)))
	case int64:
		return decimal.NewNullDecimal(decimal.NewFromInt(t))
	}
	return decimal.NullDecimal{}
}

func parseDecimal(s string) decimal.NullDecimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// Int returns the field as an integer, or false when absent or not integral
func (r RawRecord) Int(f Field) (int64, bool) {
	d := r.Decimal(f)
	if !d.Valid || !d.Decimal.Equal(d.Decimal.Truncate(0)) {
		return 0, false
	}
	return d.Decimal.IntPart(), true
}

// Bool returns the field as a boolean. Absent and unrecognized values are false.
func (r RawRecord) Bool(f Field) bool {
	v, ok := r.Lookup(f)
	if !ok {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "y", "1":
			return true
		}
	case json.Number, float64, int, int64:
		d := r.Decimal(f)
		return d.Valid && !d.Decimal.IsZero()
	}
	return false
}

// dateLayouts are tried in order for textual dates
var dateLayouts = []string{
	DateLayout,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"02/01/2006",
}

// epochMillisThreshold separates epoch seconds from epoch milliseconds
const epochMillisThreshold = 1e11

// Time parses the field as a timestamp. Absent yields (nil, nil); a present
// value that matches no known layout is an error.
func (r RawRecord) Time(f Field) (*time.Time, error) {
	v, ok := r.Lookup(f)
	if !ok {
		return nil, nil
	}
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range dateLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				ts = ts.UTC()
				return &ts, nil
			}
		}
		return nil, fmt.Errorf("unparsable date %q", s)
	case json.Number, float64, int, int64:
		d := r.Decimal(f)
		if !d.Valid || d.Decimal.IsNegative() {
			return nil, fmt.Errorf("unparsable epoch %v", v)
		}
		n := d.Decimal.IntPart()
		var ts time.Time
		if n > epochMillisThreshold {
			ts = time.UnixMilli(n).UTC()
		} else {
			ts = time.Unix(n, 0).UTC()
		}
		return &ts, nil
	}
	return nil, fmt.Errorf("unsupported date value of type %T", v)
}

// Records returns the field as a list of nested records. Non-object elements are dropped.
func (r RawRecord) Records(f Field) []RawRecord {
	v, ok := r.Lookup(f)
	if !ok {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]RawRecord, 0, len(items))
	for _, it := range items {
		if m, ok := asObject(it); ok {
			out = append(out, RawRecord(m))
		}
	}
	return out
}
