package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/andresuchdata/supplyplan/internal/domain"
	"github.com/shopspring/decimal"
)

// excelEpoch is day zero for spreadsheet serial dates
var excelEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"02-Jan-2006",
}

var weekDigits = regexp.MustCompile(`(\d+)`)

// maxQuantity is the largest count a float64 still holds exactly
const maxQuantity = 1 << 53

var errMissing = errors.New("missing value")

// normalizeColumn lower-cases a header and replaces spaces with underscores
func normalizeColumn(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

func normalizeRow(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[normalizeColumn(k)] = v
	}
	return out
}

// lookup returns the first non-empty value among the aliases
func lookup(data map[string]interface{}, aliases ...string) (interface{}, bool) {
	for _, a := range aliases {
		v, ok := data[a]
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

func toString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case fmt.Stringer:
		return strings.TrimSpace(t.String())
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", t))
	}
}

func toFloat(v interface{}) (float64, error) {
	switch t := v.(type) {
	case nil:
		return 0, errMissing
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case uint:
		return float64(t), nil
	case uint32:
		return float64(t), nil
	case uint64:
		return float64(t), nil
	case domain.Quantity:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	case decimal.Decimal:
		f, _ := t.Float64()
		return f, nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, errMissing
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", s)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", v)
	}
}

// toQuantity coerces a value into a non-negative whole number of units
func toQuantity(v interface{}) (domain.Quantity, error) {
	f, err := toFloat(v)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a finite number: %v", v)
	}
	if f < 0 {
		return 0, fmt.Errorf("negative quantity %v", f)
	}
	if f > maxQuantity {
		return 0, fmt.Errorf("quantity %v exceeds %d", f, int64(maxQuantity))
	}
	rounded := math.Round(f)
	if math.Abs(f-rounded) > 1e-9 {
		return 0, fmt.Errorf("quantity %v is not a whole number", f)
	}
	return domain.Quantity(rounded), nil
}

func toNonNegativeFloat(v interface{}, field string) (float64, error) {
	f, err := toFloat(v)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%s is not a finite number", field)
	}
	if f < 0 {
		return 0, fmt.Errorf("negative %s %v", field, f)
	}
	return f, nil
}

func toDecimal(v interface{}) (decimal.Decimal, error) {
	switch t := v.(type) {
	case decimal.Decimal:
		return t, nil
	case string:
		s := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(t), "$"))
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, fmt.Errorf("not a decimal: %q", t)
		}
		return d, nil
	default:
		f, err := toFloat(v)
		if err != nil {
			return decimal.Zero, err
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return decimal.Zero, fmt.Errorf("not a finite number: %v", v)
		}
		return decimal.NewFromFloat(f), nil
	}
}

// toDate parses calendar strings, time values and spreadsheet serial numbers
func toDate(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range dateLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed, nil
			}
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromSerial(f)
		}
		return time.Time{}, fmt.Errorf("malformed date %q", s)
	default:
		f, err := toFloat(v)
		if err != nil {
			return time.Time{}, fmt.Errorf("malformed date %v", v)
		}
		return fromSerial(f)
	}
}

func fromSerial(days float64) (time.Time, error) {
	if math.IsNaN(days) || days <= 0 || days > 2958465 {
		return time.Time{}, fmt.Errorf("malformed date serial %v", days)
	}
	whole := math.Floor(days)
	frac := days - whole
	return excelEpoch.AddDate(0, 0, int(whole)).Add(time.Duration(frac * float64(24*time.Hour))), nil
}

// toWeek accepts week numbers or labels such as "Week 3" / "W03". A plain numeric string
// keeps its sign so "-2" stays negative.
func toWeek(v interface{}) (int, error) {
	if s, ok := v.(string); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			v = f
		}
	}
	if s, ok := v.(string); ok {
		m := weekDigits.FindString(s)
		if m == "" {
			return 0, fmt.Errorf("week label %q has no number", s)
		}
		w, err := strconv.Atoi(m)
		if err != nil {
			return 0, fmt.Errorf("bad week label %q", s)
		}
		return w, nil
	}
	f, err := toFloat(v)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.Abs(f) > maxQuantity {
		return 0, fmt.Errorf("week %v is out of range", f)
	}
	if math.Abs(f-math.Round(f)) > 1e-9 {
		return 0, fmt.Errorf("week %v is not a whole number", f)
	}
	return int(math.Round(f)), nil
}
