package perfdata

import (
	"log/slog"
	"math"
	"strconv"
	"strings"
)

// Parse extracts every well formed metric of a perfdata string. Malformed
// entries and repeated metric names are skipped with a warning.
func Parse(s string, logger *slog.Logger) []Perfdata {
	if logger == nil {
		logger = slog.Default()
	}

	var out []Perfdata
	seen := make(map[string]struct{})

	rest := strings.TrimLeft(s, " \t\r\n")
	for rest != "" {
		rawName, after := splitName(rest)
		name, valueType := unquoteName(rawName)

		failed := false
		switch {
		case name == "":
			logger.Warn("perfdata_empty_name", "near", excerpt(rest))
			failed = true
		case isSeen(seen, name):
			logger.Warn("perfdata_duplicate_metric", "metric", name, "perfdata", s)
			failed = true
		case !strings.HasPrefix(after, "="):
			logger.Warn("perfdata_missing_equal", "near", excerpt(rest))
			failed = true
		}
		if failed {
			rest = skipEntry(after)
			continue
		}

		field, remain := cutSpace(after[1:])
		rest = remain

		p, ok := parseField(name, field)
		if !ok {
			logger.Warn("perfdata_invalid_value", "metric", name, "field", field)
			continue
		}
		p.ValueType = valueType
		seen[name] = struct{}{}
		out = append(out, p)

		logger.Debug("perfdata_parsed",
			"metric", p.Name,
			"value", p.Value,
			"unit", p.Unit,
			"warning", p.Warning,
			"critical", p.Critical,
		)
	}

	return out
}

// SplitOutput returns the text and perfdata parts of a check output line.
func SplitOutput(line string) (text, perf string) {
	text, perf, _ = strings.Cut(line, "|")
	return text, perf
}

func isSeen(seen map[string]struct{}, name string) bool {
	_, ok := seen[name]
	return ok
}

// splitName reads a metric label up to '=' or whitespace, honoring single
// quotes.
func splitName(s string) (name, rest string) {
	inQuote := false
	i := 0
	for ; i < len(s); i++ {
		c := s[i]
		if c == '\'' {
			inQuote = !inQuote
			continue
		}
		if !inQuote && (c == '=' || isSpace(c)) {
			break
		}
	}
	return s[:i], s[i:]
}

func unquoteName(raw string) (string, DataType) {
	name := strings.TrimPrefix(raw, "'")
	name = strings.TrimSuffix(name, "'")
	name = strings.TrimSpace(name)

	if len(name) > 3 && name[1] == '[' && strings.HasSuffix(name, "]") {
		inner := name[2 : len(name)-1]
		switch name[0] {
		case 'a':
			return inner, Absolute
		case 'c':
			return inner, Counter
		case 'd':
			return inner, Derive
		case 'g':
			return inner, Gauge
		}
	}
	return name, Gauge
}

// parseField parses value[unit];warn;crit;min;max.
func parseField(name, field string) (Perfdata, bool) {
	parts := strings.Split(field, ";")

	value, unit, ok := leadingFloat(parts[0])
	if !ok {
		return Perfdata{}, false
	}

	p := New(name, value, unit)
	if len(parts) > 1 {
		p.WarningLow, p.Warning, p.WarningMode = parseRange(parts[1])
	}
	if len(parts) > 2 {
		p.CriticalLow, p.Critical, p.CriticalMode = parseRange(parts[2])
	}
	if len(parts) > 3 {
		p.Min = parseNumber(parts[3])
	}
	if len(parts) > 4 {
		p.Max = parseNumber(parts[4])
	}
	return p, true
}

// parseRange decodes [@][~|low:]high. A lone number N means 0:N.
func parseRange(s string) (low, high float64, inside bool) {
	if strings.HasPrefix(s, "@") {
		inside = true
		s = s[1:]
	}

	lowStr, highStr, hasColon := strings.Cut(s, ":")
	if !hasColon {
		high = parseNumber(s)
		if math.IsNaN(high) {
			return math.NaN(), math.NaN(), inside
		}
		return 0, high, inside
	}

	if lowStr == "~" {
		low = math.Inf(-1)
	} else {
		low = parseNumber(lowStr)
	}
	if highStr == "" {
		high = math.Inf(1)
	} else {
		high = parseNumber(highStr)
	}
	return low, high, inside
}

// parseNumber accepts both '.' and ',' as decimal separator.
func parseNumber(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// leadingFloat splits "12,5ms" into 12.5 and "ms".
func leadingFloat(s string) (float64, string, bool) {
	end := 0
	for end < len(s) && strings.IndexByte("0123456789+-.,eE", s[end]) >= 0 {
		end++
	}
	for ; end > 0; end-- {
		v, err := strconv.ParseFloat(strings.Replace(s[:end], ",", ".", 1), 64)
		if err == nil {
			return v, s[end:], true
		}
	}
	return 0, "", false
}

func cutSpace(s string) (field, rest string) {
	i := strings.IndexAny(s, " \t\r\n")
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimLeft(s[i:], " \t\r\n")
}

func skipEntry(s string) string {
	_, rest := cutSpace(s)
	return strings.TrimLeft(rest, " \t\r\n")
}

func excerpt(s string) string {
	if len(s) > 16 {
		return s[:16]
	}
	return s
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
