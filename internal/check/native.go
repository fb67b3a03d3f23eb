package check

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Native check kinds.
const (
	KindHealth   = "health"
	KindCPU      = "cpu_percentage"
	KindSimulate = "simulate"
)

var (
	// ErrUnknownNativeCheck is returned for a native definition naming no
	// known kind.
	ErrUnknownNativeCheck = errors.New("unknown native check")

	// ErrNotNative is returned when a command line is not a JSON object.
	ErrNotNative = errors.New("not a native check definition")
)

// NativeDefinition is a native check written as a JSON command line:
//
//	{"check": "health", "args": {"warning-runtime": 30}}
type NativeDefinition struct {
	Check string          `json:"check"`
	Args  json.RawMessage `json:"args"`
}

// ParseNative decodes a native definition. It returns ErrNotNative when
// cmdline does not start with '{'.
func ParseNative(cmdline string) (*NativeDefinition, error) {
	trimmed := strings.TrimSpace(cmdline)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, ErrNotNative
	}

	var def NativeDefinition
	if err := json.Unmarshal([]byte(trimmed), &def); err != nil {
		return nil, fmt.Errorf("decode native check: %w", err)
	}
	if def.Check == "" {
		return nil, fmt.Errorf("%w: missing \"check\" field", ErrUnknownNativeCheck)
	}
	return &def, nil
}

// decodeArgs decodes the args object into v. Absent or null args leave v
// untouched.
func (d *NativeDefinition) decodeArgs(v any) error {
	raw := bytes.TrimSpace(d.Args)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%s args: %w", d.Check, err)
	}
	return nil
}

// flexNumber accepts a JSON number or a string holding one.
type flexNumber float64

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	s := string(bytes.TrimSpace(b))
	if s == "null" {
		return nil
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unquoted)
	}
	if s == "" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %s", string(b))
	}
	if f < 0 {
		return fmt.Errorf("negative value %s", string(b))
	}
	*n = flexNumber(f)
	return nil
}
