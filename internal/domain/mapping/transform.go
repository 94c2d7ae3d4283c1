package mapping

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Transform is a pure value-to-value function. Transforms never throw:
// malformed input yields Null, and Null input always yields Null (the
// null-preservation law).
type Transform func(Value) Value

// Registry is the fixed set of named transforms, grouped by category.
var Registry = map[string]Transform{
	// boolean
	"yesNo":      boolTransform("Yes", "No"),
	"yesNoLower": boolTransform("yes", "no"),
	"YN":         boolTransform("Y", "N"),
	"oneZero":    boolTransform("1", "0"),
	"truefalse":  boolTransform("true", "false"),

	// string
	"uppercase":    stringTransform(strings.ToUpper),
	"lowercase":    stringTransform(strings.ToLower),
	"titlecase":    stringTransform(titleCase),
	"trim":         stringTransform(strings.TrimSpace),
	"truncate50":   truncateTransform(50),
	"truncate100":  truncateTransform(100),
	"truncate255":  truncateTransform(255),

	// phone
	"digitsOnly":  phoneTransform(phoneDigitsOnly),
	"e164":        phoneTransform(phoneE164),
	"dashed":      phoneTransform(phoneDashed),
	"dotted":      phoneTransform(phoneDotted),
	"parentheses": phoneTransform(phoneParens),

	// date
	"isoDate":      dateTransform("2006-01-02"),
	"usDate":       dateTransform("01/02/2006"),
	"usDateShort":  dateTransform("1/2/06"),
	"timestamp":    timestampTransform(false),
	"timestampMs":  timestampTransform(true),
	"iso8601":      dateTransform(time.RFC3339),

	// number
	"integer":     numberTransform(func(f float64) float64 { return float64(int64(f)) }),
	"round":       numberTransform(func(f float64) float64 { return float64(int64(f + sign(f)*0.5)) }),
	"twoDecimals": numberTransform(round2),
	"currency":    numberTransform(round2),
	"percentage":  numberTransform(func(f float64) float64 { return round2(f * 100) }),

	// service enum -> short code tables
	"windowTypeCode": enumTransform(windowTypeCodes),
	"roofTypeCode":   enumTransform(roofTypeCodes),
	"timeframeCode":  enumTransform(timeframeCodes),
}

// Apply looks a transform up by id and applies it. An unknown transformId
// passes the value through unchanged, per the transform contract.
func Apply(transformID string, v Value) Value {
	if transformID == "" {
		return v
	}
	t, ok := Registry[transformID]
	if !ok {
		return v
	}
	if v.IsNull() {
		return Null
	}
	return t(v)
}

func boolTransform(yes, no string) Transform {
	return func(v Value) Value {
		if v.IsNull() {
			return Null
		}
		b, ok := v.AsBool()
		if !ok {
			s := strings.ToLower(v.String())
			if s == "true" || s == "1" || s == "yes" {
				b = true
			} else if s == "false" || s == "0" || s == "no" {
				b = false
			} else {
				return Null
			}
		}
		if b {
			return NewStr(yes)
		}
		return NewStr(no)
	}
}

func stringTransform(f func(string) string) Transform {
	return func(v Value) Value {
		if v.IsNull() {
			return Null
		}
		s, ok := v.AsStr()
		if !ok {
			s = v.String()
		}
		return NewStr(f(s))
	}
}

func truncateTransform(n int) Transform {
	return stringTransform(func(s string) string {
		if len(s) <= n {
			return s
		}
		return s[:n]
	})
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		if len(w) > 0 {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

var phoneDigitsRE = regexp.MustCompile(`\D`)

func phoneDigitsOnly(digits string) string { return digits }

// normalizePhone strips all non-digits and, for 11-digit NANP numbers with a
// leading 1, drops the country code, yielding exactly 10 digits when possible.
func normalizePhone(s string) string {
	digits := phoneDigitsRE.ReplaceAllString(s, "")
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	return digits
}

func phoneE164(digits string) string {
	if len(digits) != 10 {
		return ""
	}
	return "+1" + digits
}

func phoneDashed(digits string) string {
	if len(digits) != 10 {
		return ""
	}
	return digits[0:3] + "-" + digits[3:6] + "-" + digits[6:10]
}

func phoneDotted(digits string) string {
	if len(digits) != 10 {
		return ""
	}
	return digits[0:3] + "." + digits[3:6] + "." + digits[6:10]
}

func phoneParens(digits string) string {
	if len(digits) != 10 {
		return ""
	}
	return "(" + digits[0:3] + ") " + digits[3:6] + "-" + digits[6:10]
}

func phoneTransform(f func(string) string) Transform {
	return func(v Value) Value {
		if v.IsNull() {
			return Null
		}
		s, ok := v.AsStr()
		if !ok {
			s = v.String()
		}
		digits := normalizePhone(s)
		if digits == "" {
			return Null
		}
		out := f(digits)
		if out == "" {
			return Null
		}
		return NewStr(out)
	}
}

func parseFlexibleTime(v Value) (time.Time, bool) {
	if n, ok := v.AsNum(); ok {
		return time.Unix(int64(n), 0).UTC(), true
	}
	s, ok := v.AsStr()
	if !ok {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02", "2006-01-02T15:04:05", "01/02/2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func dateTransform(layout string) Transform {
	return func(v Value) Value {
		if v.IsNull() {
			return Null
		}
		t, ok := parseFlexibleTime(v)
		if !ok {
			return Null
		}
		return NewStr(t.Format(layout))
	}
}

func timestampTransform(millis bool) Transform {
	return func(v Value) Value {
		if v.IsNull() {
			return Null
		}
		t, ok := parseFlexibleTime(v)
		if !ok {
			return Null
		}
		if millis {
			return NewNum(float64(t.UnixMilli()))
		}
		return NewNum(float64(t.Unix()))
	}
}

func numberTransform(f func(float64) float64) Transform {
	return func(v Value) Value {
		if v.IsNull() {
			return Null
		}
		n, ok := v.AsNum()
		if !ok {
			s, isStr := v.AsStr()
			if !isStr {
				return Null
			}
			parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return Null
			}
			n = parsed
		}
		return NewNum(f(n))
	}
}

func round2(f float64) float64 {
	return float64(int64(f*100+sign(f)*0.5)) / 100
}

func sign(f float64) float64 {
	if f < 0 {
		return -1
	}
	return 1
}

var windowTypeCodes = map[string]string{
	"vinyl": "VN", "wood": "WD", "aluminum": "AL", "fiberglass": "FG", "composite": "CM",
}

var roofTypeCodes = map[string]string{
	"asphalt_shingle": "AS", "metal": "MT", "tile": "TL", "flat": "FL", "wood_shake": "WS",
}

var timeframeCodes = map[string]string{
	"IMMEDIATE": "IM", "THIS_WEEK": "TW", "THIS_MONTH": "TM", "RESEARCHING": "RS",
}

func enumTransform(table map[string]string) Transform {
	return func(v Value) Value {
		if v.IsNull() {
			return Null
		}
		s, ok := v.AsStr()
		if !ok {
			s = v.String()
		}
		code, ok := table[s]
		if !ok {
			return Null
		}
		return NewStr(code)
	}
}
