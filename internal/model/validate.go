package model

import (
	"fmt"
	"math"
	"time"

	"gradebook/internal/query"
)

// TimeLayout is fixed width so that string order equals time order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// ValidationError reports a local invariant violation. It is raised before
// any write leaves the process.
type ValidationError struct {
	Entity string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s %s", e.Entity, e.Field, e.Reason)
}

// DecodeError reports a document whose fields do not have the shape of the
// entity it is decoded into.
type DecodeError struct {
	Entity string
	Field  string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: field %s %s", e.Entity, e.Field, e.Reason)
}

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime reads user input in TimeLayout or any RFC 3339 form. Stored
// fields are only ever written in TimeLayout.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, s)
	}
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func invalid(entity, field, reason string) error {
	return &ValidationError{Entity: entity, Field: field, Reason: reason}
}

func checkPresent(entity string, fields map[string]any, partial bool, required ...string) error {
	if partial {
		return nil
	}
	for _, field := range required {
		if v, ok := fields[field]; !ok || v == nil {
			return invalid(entity, field, "is required")
		}
	}
	return nil
}

func numberValue(v any) (float64, bool) {
	return query.Number(v)
}

func finite(n float64) bool {
	return !math.IsNaN(n) && !math.IsInf(n, 0)
}

// checkTime accepts only TimeLayout strings, the form every writer of this
// package produces.
func checkTime(v any) error {
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("must be a timestamp string in %s layout", TimeLayout)
	}
	if _, err := time.Parse(TimeLayout, s); err != nil {
		return fmt.Errorf("must be a timestamp in %s layout", TimeLayout)
	}
	return nil
}

func timeValue(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		parsed, err := ParseTime(t)
		if err != nil {
			return time.Time{}, fmt.Errorf("must be a timestamp")
		}
		return parsed, nil
	}
	return time.Time{}, fmt.Errorf("must be a timestamp")
}

// decoder collects the first shape error while reading fields.
type decoder struct {
	entity string
	fields map[string]any
	err    error
}

func (d *decoder) fail(field, reason string) {
	if d.err == nil {
		d.err = &DecodeError{Entity: d.entity, Field: field, Reason: reason}
	}
}

func (d *decoder) lookup(field string, required bool) (any, bool) {
	v, ok := d.fields[field]
	if !ok || v == nil {
		if required {
			d.fail(field, "is missing")
		}
		return nil, false
	}
	return v, true
}

func (d *decoder) str(field string, required bool) string {
	v, ok := d.lookup(field, required)
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		d.fail(field, fmt.Sprintf("has type %T, want string", v))
	}
	return s
}

func (d *decoder) number(field string, required bool) float64 {
	v, ok := d.lookup(field, required)
	if !ok {
		return 0
	}
	n, ok := numberValue(v)
	if !ok {
		d.fail(field, fmt.Sprintf("has type %T, want number", v))
	}
	return n
}

func (d *decoder) time(field string, required bool) time.Time {
	v, ok := d.lookup(field, required)
	if !ok {
		return time.Time{}
	}
	t, err := timeValue(v)
	if err != nil {
		d.fail(field, err.Error())
	}
	return t
}
