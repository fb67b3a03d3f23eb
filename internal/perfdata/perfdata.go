// Package perfdata parses the performance data section of a check output line.
//
// A perfdata string is a whitespace separated list of entries of the form
//
//	'label'=value[unit];[warn];[crit];[min];[max]
//
// where warn and crit are Nagios ranges ([@][~|low:]high). Absent numbers are
// represented as NaN.
package perfdata

import (
	"fmt"
	"math"
)

// DataType is the kind of value carried by a metric.
type DataType int

const (
	Gauge DataType = iota
	Counter
	Derive
	Absolute
	Automatic
)

// String returns the attribute name used when exporting the data type.
func (t DataType) String() string {
	switch t {
	case Gauge:
		return "gauge"
	case Counter:
		return "counter"
	case Derive:
		return "derive"
	case Absolute:
		return "absolute"
	case Automatic:
		return "auto"
	default:
		return "unknown"
	}
}

// Perfdata is one metric parsed from a check output.
type Perfdata struct {
	Name      string
	Unit      string
	Value     float64
	ValueType DataType

	// Warning range. When WarningMode is set the alert fires inside
	// [WarningLow, Warning], otherwise outside of it.
	Warning     float64
	WarningLow  float64
	WarningMode bool

	Critical     float64
	CriticalLow  float64
	CriticalMode bool

	Min float64
	Max float64
}

// New returns a gauge with every optional field unset.
func New(name string, value float64, unit string) Perfdata {
	nan := math.NaN()
	return Perfdata{
		Name:        name,
		Unit:        unit,
		Value:       value,
		ValueType:   Gauge,
		Warning:     nan,
		WarningLow:  nan,
		Critical:    nan,
		CriticalLow: nan,
		Min:         nan,
		Max:         nan,
	}
}

// IsSet reports whether v carries an exportable threshold value.
// NaN and +Inf mean "no bound".
func IsSet(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 1)
}

// String renders p back in perfdata syntax.
func (p Perfdata) String() string {
	return fmt.Sprintf("%s=%s%s;%s;%s;%s;%s",
		quoteName(p.Name),
		formatFloat(p.Value), p.Unit,
		formatRange(p.WarningLow, p.Warning, p.WarningMode),
		formatRange(p.CriticalLow, p.Critical, p.CriticalMode),
		formatFloat(p.Min), formatFloat(p.Max),
	)
}

func quoteName(name string) string {
	for _, r := range name {
		if r == ' ' || r == '=' || r == '\t' {
			return "'" + name + "'"
		}
	}
	return name
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return fmt.Sprintf("%g", v)
}

func formatRange(low, high float64, inside bool) string {
	if math.IsNaN(low) && math.IsNaN(high) {
		return ""
	}
	prefix := ""
	if inside {
		prefix = "@"
	}
	if low == 0 && !inside {
		return formatFloat(high)
	}
	lowStr := formatFloat(low)
	if math.IsInf(low, -1) {
		lowStr = "~"
	}
	highStr := formatFloat(high)
	if math.IsInf(high, 1) {
		highStr = ""
	}
	return prefix + lowStr + ":" + highStr
}
