package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"forma/backend/pkg/apperror"
)

// CoerceValue coerces a raw client-supplied value to the semantic type of the
// property and enforces the property's range rules. It returns the value in
// its canonical representation (float64 for numbers, bool for booleans,
// RFC 3339 string for dates, int for ratings, string otherwise).
//
// Attributes are an open map validated only at the edges; this is the edge.
func CoerceValue(p *Property, raw any) (any, error) {
	if raw == nil {
		if p.Required {
			return nil, valErr(p, "value is required")
		}
		return nil, nil
	}

	switch p.Type {
	case PropertyTypeString:
		s, ok := raw.(string)
		if !ok {
			return nil, valErr(p, "expected a string, got %T", raw)
		}
		return s, nil

	case PropertyTypeNumber:
		n, err := toFloat(raw)
		if err != nil {
			return nil, valErr(p, "%v", err)
		}
		if p.MinValue != nil && n < *p.MinValue {
			return nil, valErr(p, "value %v is below minimum %v", n, *p.MinValue)
		}
		if p.MaxValue != nil && n > *p.MaxValue {
			return nil, valErr(p, "value %v is above maximum %v", n, *p.MaxValue)
		}
		if p.Precision != nil {
			scale := math.Pow10(*p.Precision)
			if math.Abs(n*scale-math.Round(n*scale)) > 1e-9 {
				return nil, valErr(p, "value %v exceeds precision of %d decimal places", n, *p.Precision)
			}
		}
		return n, nil

	case PropertyTypeBoolean:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, valErr(p, "cannot interpret %q as boolean", v)
			}
			return b, nil
		default:
			return nil, valErr(p, "expected a boolean, got %T", raw)
		}

	case PropertyTypeRating:
		n, err := toFloat(raw)
		if err != nil {
			return nil, valErr(p, "%v", err)
		}
		if n != math.Trunc(n) {
			return nil, valErr(p, "rating must be a whole number, got %v", n)
		}
		r := int(n)
		if r < 0 || r > 5 {
			return nil, valErr(p, "rating must be between 0 and 5, got %d", r)
		}
		return r, nil

	case PropertyTypeDate:
		switch v := raw.(type) {
		case time.Time:
			return v.UTC().Format(time.RFC3339), nil
		case string:
			for _, layout := range []string{time.RFC3339, "2006-01-02"} {
				if t, err := time.Parse(layout, v); err == nil {
					return t.UTC().Format(time.RFC3339), nil
				}
			}
			return nil, valErr(p, "cannot interpret %q as a date", v)
		default:
			return nil, valErr(p, "expected a date, got %T", raw)
		}

	case PropertyTypeReference:
		s, ok := raw.(string)
		if !ok || s == "" {
			return nil, valErr(p, "expected an object id, got %T", raw)
		}
		return s, nil

	default:
		return nil, valErr(p, "unsupported property type %q", p.Type)
	}
}

func toFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot parse %q as a number", v)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", raw)
	}
}

func valErr(p *Property, format string, args ...any) *apperror.Error {
	e := apperror.Validation(format, args...)
	e.Property = p.Name
	return e
}
