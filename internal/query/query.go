// Package query builds descriptors for filtered, ordered reads of one
// collection. Building a query performs no I/O; backends execute it.
package query

import (
	"errors"
	"fmt"
)

type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Filter is an equality predicate on one field.
type Filter struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

type Order struct {
	Field     string    `json:"field"`
	Direction Direction `json:"direction"`
}

// Query is an immutable descriptor. Builder methods return modified copies,
// so a base query can be shared and refined.
//
// Filters hold at most one entry per field: a later Where on the same field
// replaces the earlier value.
type Query struct {
	Collection string   `json:"collection"`
	Filters    []Filter `json:"filters,omitempty"`
	Orders     []Order  `json:"orders,omitempty"`
	MaxResults int      `json:"limit,omitempty"`
}

func New(collection string) Query {
	return Query{Collection: collection}
}

func (q Query) Where(field string, value any) Query {
	filters := make([]Filter, 0, len(q.Filters)+1)
	for _, f := range q.Filters {
		if f.Field != field {
			filters = append(filters, f)
		}
	}
	q.Filters = append(filters, Filter{Field: field, Value: value})
	return q
}

func (q Query) OrderBy(field string, direction Direction) Query {
	orders := make([]Order, len(q.Orders), len(q.Orders)+1)
	copy(orders, q.Orders)
	q.Orders = append(orders, Order{Field: field, Direction: direction})
	return q
}

// Limit caps the number of results. Zero means no limit.
func (q Query) Limit(n int) Query {
	q.MaxResults = n
	return q
}

func (q Query) Validate() error {
	if q.Collection == "" {
		return errors.New("query: collection is required")
	}
	for _, f := range q.Filters {
		if f.Field == "" {
			return errors.New("query: filter field is required")
		}
	}
	for _, o := range q.Orders {
		if o.Field == "" {
			return errors.New("query: order field is required")
		}
		if o.Direction != Asc && o.Direction != Desc {
			return fmt.Errorf("query: unknown direction %q", o.Direction)
		}
	}
	if q.MaxResults < 0 {
		return errors.New("query: limit must not be negative")
	}
	return nil
}

func (q Query) String() string {
	s := q.Collection
	for _, f := range q.Filters {
		s += fmt.Sprintf(" where %s==%v", f.Field, f.Value)
	}
	for _, o := range q.Orders {
		s += fmt.Sprintf(" order by %s %s", o.Field, o.Direction)
	}
	if q.MaxResults > 0 {
		s += fmt.Sprintf(" limit %d", q.MaxResults)
	}
	return s
}

// Match reports whether a document's fields satisfy every filter.
func (q Query) Match(fields map[string]any) bool {
	for _, f := range q.Filters {
		v, ok := fields[f.Field]
		if !ok {
			return false
		}
		if Compare(v, f.Value) != 0 {
			return false
		}
	}
	return true
}

// Less orders two documents by the query's order clauses. Documents that
// tie on every clause compare equal; callers sort stably to keep the
// backend's natural order among ties.
func (q Query) Less(a, b map[string]any) bool {
	for _, o := range q.Orders {
		c := Compare(a[o.Field], b[o.Field])
		if c == 0 {
			continue
		}
		if o.Direction == Desc {
			return c > 0
		}
		return c < 0
	}
	return false
}
