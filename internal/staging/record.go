package staging

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-metrics/pkg/enums"
)

// RawRecord is one producer record before normalization. Field names and value
// encodings vary between producers.
type RawRecord struct {
	Source enums.Source   `json:"source"`
	Fields map[string]any `json:"fields"`
}

var hundred = decimal.NewFromInt(100)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// fieldReader pulls typed values out of a raw record, remembering which keys
// were missing or malformed so one error can describe the whole record.
type fieldReader struct {
	fields  map[string]any
	missing []string
	invalid map[string]string
}

func newFieldReader(fields map[string]any) *fieldReader {
	return &fieldReader{fields: fields, invalid: map[string]string{}}
}

func (r *fieldReader) lookup(names ...string) (string, any, bool) {
	for _, name := range names {
		if v, ok := r.fields[name]; ok && v != nil {
			if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
				continue
			}
			return name, v, true
		}
	}
	return "", nil, false
}

func (r *fieldReader) miss(names []string) {
	r.missing = append(r.missing, strings.Join(names, "|"))
}

func (r *fieldReader) ok() bool {
	return len(r.missing) == 0 && len(r.invalid) == 0
}

func (r *fieldReader) str(required bool, names ...string) string {
	name, v, found := r.lookup(names...)
	if !found {
		if required {
			r.miss(names)
		}
		return ""
	}
	s, err := asString(v)
	if err != nil {
		r.invalid[name] = err.Error()
		return ""
	}
	return s
}

// money reads a decimal amount from whole-unit keys or, failing that, from
// integer cent keys.
func (r *fieldReader) money(required bool, units []string, cents []string) decimal.Decimal {
	if name, v, found := r.lookup(units...); found {
		d, err := asDecimal(v)
		if err != nil {
			r.invalid[name] = err.Error()
		}
		return d
	}
	if name, v, found := r.lookup(cents...); found {
		d, err := asDecimal(v)
		if err != nil {
			r.invalid[name] = err.Error()
			return decimal.Zero
		}
		return d.Div(hundred)
	}
	if required {
		r.miss(append(append([]string{}, units...), cents...))
	}
	return decimal.Zero
}

func (r *fieldReader) integer(required bool, names ...string) int64 {
	name, v, found := r.lookup(names...)
	if !found {
		if required {
			r.miss(names)
		}
		return 0
	}
	d, err := asDecimal(v)
	if err != nil {
		r.invalid[name] = err.Error()
		return 0
	}
	if !d.IsInteger() {
		r.invalid[name] = fmt.Sprintf("expected whole number, got %s", d)
		return 0
	}
	return d.IntPart()
}

func (r *fieldReader) timestamp(names ...string) time.Time {
	name, v, found := r.lookup(names...)
	if !found {
		r.miss(names)
		return time.Time{}
	}
	ts, err := asTime(v)
	if err != nil {
		r.invalid[name] = err.Error()
	}
	return ts
}

func asString(v any) (string, error) {
	switch value := v.(type) {
	case string:
		return strings.TrimSpace(value), nil
	case json.Number:
		return value.String(), nil
	case int:
		return strconv.Itoa(value), nil
	case int64:
		return strconv.FormatInt(value, 10), nil
	case float64:
		if value == math.Trunc(value) {
			return strconv.FormatInt(int64(value), 10), nil
		}
		return strconv.FormatFloat(value, 'f', -1, 64), nil
	case fmt.Stringer:
		return value.String(), nil
	}
	return "", fmt.Errorf("unsupported text value %T", v)
}

func asDecimal(v any) (decimal.Decimal, error) {
	switch value := v.(type) {
	case decimal.Decimal:
		return value, nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return decimal.Zero, fmt.Errorf("not a number: %q", value)
		}
		return d, nil
	case json.Number:
		return decimal.NewFromString(value.String())
	case float64:
		return decimal.NewFromFloat(value), nil
	case float32:
		return decimal.NewFromFloat32(value), nil
	case int:
		return decimal.NewFromInt(int64(value)), nil
	case int32:
		return decimal.NewFromInt32(value), nil
	case int64:
		return decimal.NewFromInt(value), nil
	}
	return decimal.Zero, fmt.Errorf("unsupported numeric value %T", v)
}

func asTime(v any) (time.Time, error) {
	switch value := v.(type) {
	case time.Time:
		return value.UTC(), nil
	case string:
		trimmed := strings.TrimSpace(value)
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, trimmed); err == nil {
				return ts.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
	case json.Number, float64, int64, int:
		d, err := asDecimal(value)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(d.IntPart(), 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp value %T", v)
}
