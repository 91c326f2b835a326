// Package policy evaluates the backend's declarative access rules. Rules
// are keyed by collection and hold the operations allowed, the caller roles
// allowed to write, and predicates over the resulting document's fields.
// They run on every write whatever the client validated.
package policy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"gradebook/internal/docstore"
	"gradebook/internal/model"
	"gradebook/internal/query"
)

// Wildcard matches any collection without a rule of its own.
const Wildcard = "*"

type FieldRule struct {
	Field     string   `yaml:"field"`
	Required  bool     `yaml:"required"`
	Type      string   `yaml:"type"` // string, number, bool or timestamp (model.TimeLayout)
	MinLength int      `yaml:"minLength"`
	Contains  string   `yaml:"contains"`
	Min       *float64 `yaml:"min"`
	Max       *float64 `yaml:"max"`
	Gt        *float64 `yaml:"gt"`
	// References names a collection that must hold a document whose id is
	// the field's value.
	References string `yaml:"references"`
}

type Rule struct {
	Collection string             `yaml:"collection"`
	Allow      []docstore.WriteOp `yaml:"allow"`
	// Roles allowed to write. Empty allows every caller.
	Roles  []string    `yaml:"roles"`
	Fields []FieldRule `yaml:"fields"`
}

type Policy struct {
	Rules []Rule `yaml:"rules"`
}

// ExistsFunc looks up a document for reference predicates.
type ExistsFunc func(ctx context.Context, collection, id string) (bool, error)

func Parse(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return Parse(data)
}

func (p *Policy) validate() error {
	seen := make(map[string]bool)
	for _, r := range p.Rules {
		if r.Collection == "" {
			return fmt.Errorf("policy: rule without collection")
		}
		if seen[r.Collection] {
			return fmt.Errorf("policy: duplicate rule for %s", r.Collection)
		}
		seen[r.Collection] = true
		for _, op := range r.Allow {
			if op != docstore.OpCreate && op != docstore.OpUpdate && op != docstore.OpDelete {
				return fmt.Errorf("policy: %s: unknown operation %q", r.Collection, op)
			}
		}
		for _, f := range r.Fields {
			switch f.Type {
			case "", "string", "number", "bool", "timestamp":
			default:
				return fmt.Errorf("policy: %s.%s: unknown type %q", r.Collection, f.Field, f.Type)
			}
		}
	}
	return nil
}

func (p *Policy) rule(collection string) *Rule {
	var wildcard *Rule
	for i := range p.Rules {
		switch p.Rules[i].Collection {
		case collection:
			return &p.Rules[i]
		case Wildcard:
			wildcard = &p.Rules[i]
		}
	}
	return wildcard
}

// Check decides one write. doc is the document as it would exist after the
// write (the merged document for updates, the stored one for deletes).
// exists may be nil when no rule uses references.
func (p *Policy) Check(ctx context.Context, caller Caller, op docstore.WriteOp, collection string, doc map[string]any, exists ExistsFunc) error {
	const errOp = "policy"
	r := p.rule(collection)
	if r == nil {
		return docstore.Errorf(docstore.KindPermissionDenied, errOp, "no rule for collection %s", collection)
	}
	if !slices.Contains(r.Allow, op) {
		return docstore.Errorf(docstore.KindPermissionDenied, errOp, "%s not allowed on %s", op, collection)
	}
	if len(r.Roles) > 0 && !slices.Contains(r.Roles, caller.Role) {
		return docstore.Errorf(docstore.KindPermissionDenied, errOp, "role %q may not write %s", caller.Role, collection)
	}
	if op == docstore.OpDelete {
		return nil
	}
	for _, f := range r.Fields {
		if err := f.check(ctx, doc, exists); err != nil {
			var lerr lookupError
			if errors.As(err, &lerr) {
				return docstore.NewError(docstore.KindBackend, errOp, lerr.err)
			}
			return docstore.Errorf(docstore.KindPolicyRejected, errOp, "%s.%s %v", collection, f.Field, err)
		}
	}
	return nil
}

func (f FieldRule) check(ctx context.Context, doc map[string]any, exists ExistsFunc) error {
	v, ok := doc[f.Field]
	if !ok || v == nil {
		if f.Required {
			return fmt.Errorf("is required")
		}
		return nil
	}

	switch f.Type {
	case "string":
		if _, ok := v.(string); !ok {
			return fmt.Errorf("must be a string")
		}
	case "number":
		if _, err := finiteNumber(v); err != nil {
			return err
		}
	case "bool":
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("must be a bool")
		}
	case "timestamp":
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("must be a timestamp")
		}
		if _, err := time.Parse(model.TimeLayout, s); err != nil {
			return fmt.Errorf("must be a timestamp")
		}
	}

	if s, ok := v.(string); ok {
		if f.MinLength > 0 && len([]rune(s)) < f.MinLength {
			return fmt.Errorf("must be at least %d characters", f.MinLength)
		}
		if f.Contains != "" && !strings.Contains(s, f.Contains) {
			return fmt.Errorf("must contain %q", f.Contains)
		}
	}

	if f.Min != nil || f.Max != nil || f.Gt != nil {
		n, err := finiteNumber(v)
		if err != nil {
			return err
		}
		if f.Min != nil && n < *f.Min {
			return fmt.Errorf("must be at least %v", *f.Min)
		}
		if f.Max != nil && n > *f.Max {
			return fmt.Errorf("must be at most %v", *f.Max)
		}
		if f.Gt != nil && n <= *f.Gt {
			return fmt.Errorf("must be greater than %v", *f.Gt)
		}
	}

	if f.References != "" {
		id, ok := v.(string)
		if !ok || id == "" {
			return fmt.Errorf("must reference a %s document", f.References)
		}
		if exists == nil {
			return fmt.Errorf("cannot resolve reference to %s", f.References)
		}
		found, err := exists(ctx, f.References, id)
		if err != nil {
			return lookupError{err: err}
		}
		if !found {
			return fmt.Errorf("references missing %s/%s", f.References, id)
		}
	}
	return nil
}

type lookupError struct {
	err error
}

func (e lookupError) Error() string {
	return e.err.Error()
}

func finiteNumber(v any) (float64, error) {
	n, ok := query.Number(v)
	if !ok {
		return 0, fmt.Errorf("must be a number")
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("must be a finite number")
	}
	return n, nil
}
