package query

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// type ranks for values of different kinds
const (
	rankNull = iota
	rankBool
	rankNumber
	rankString
	rankOther
)

// Compare orders two field values. Numbers of any Go numeric type compare
// numerically; values of different kinds order
// nil < bool < number < string < anything else.
func Compare(a, b any) int {
	ra, na, sa := normalize(a)
	rb, nb, sb := normalize(b)
	if ra != rb {
		return cmpInt(ra, rb)
	}
	switch ra {
	case rankNull:
		return 0
	case rankBool, rankNumber:
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		}
		return 0
	default:
		return strings.Compare(sa, sb)
	}
}

func normalize(v any) (rank int, num float64, str string) {
	switch t := v.(type) {
	case nil:
		return rankNull, 0, ""
	case bool:
		if t {
			return rankBool, 1, ""
		}
		return rankBool, 0, ""
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return rankNumber, f, ""
		}
		return rankString, 0, t.String()
	case string:
		return rankString, 0, t
	case time.Time:
		return rankString, 0, t.UTC().Format("2006-01-02T15:04:05.000000000Z")
	}
	if n, ok := Number(v); ok {
		return rankNumber, n, ""
	}
	return rankOther, 0, fmt.Sprint(v)
}

// Number converts any Go numeric type, or a json.Number, to a float64.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
