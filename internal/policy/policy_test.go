package policy

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gradebook/internal/docstore"
)

func TestGradebookRules(t *testing.T) {
	p := Gradebook()
	ctx := context.Background()
	anyone := Caller{}

	tests := []struct {
		name       string
		op         docstore.WriteOp
		collection string
		doc        map[string]any
		kind       docstore.Kind
	}{
		{"Valid student", docstore.OpCreate, "students", map[string]any{"name": "Jo", "email": "jo@x.com"}, ""},
		{"Short student name", docstore.OpCreate, "students", map[string]any{"name": "J", "email": "jo@x.com"}, docstore.KindPolicyRejected},
		{"Email without at", docstore.OpUpdate, "students", map[string]any{"name": "Jo", "email": "jo"}, docstore.KindPolicyRejected},
		{"Grade in range", docstore.OpCreate, "grades", map[string]any{"studentId": "S1", "assignmentId": "A1", "score": 95.0}, ""},
		{"Grade over range", docstore.OpCreate, "grades", map[string]any{"studentId": "S1", "assignmentId": "A1", "score": 150.0}, docstore.KindPolicyRejected},
		{"Grade missing student", docstore.OpCreate, "grades", map[string]any{"assignmentId": "A1", "score": 10.0}, docstore.KindPolicyRejected},
		{"Assignment without points", docstore.OpCreate, "assignments", map[string]any{"title": "Essay", "totalPoints": 0.0}, docstore.KindPolicyRejected},
		{"NaN score", docstore.OpCreate, "grades", map[string]any{"studentId": "S1", "assignmentId": "A1", "score": math.NaN()}, docstore.KindPolicyRejected},
		{"Infinite score", docstore.OpCreate, "grades", map[string]any{"studentId": "S1", "assignmentId": "A1", "score": math.Inf(1)}, docstore.KindPolicyRejected},
		{"NaN points", docstore.OpCreate, "assignments", map[string]any{"title": "Essay", "totalPoints": math.NaN()}, docstore.KindPolicyRejected},
		{"Unsigned score", docstore.OpCreate, "grades", map[string]any{"studentId": "S1", "assignmentId": "A1", "score": uint(50)}, ""},
		{"Small int score", docstore.OpCreate, "grades", map[string]any{"studentId": "S1", "assignmentId": "A1", "score": uint8(50)}, ""},
		{"JSON number score", docstore.OpCreate, "grades", map[string]any{"studentId": "S1", "assignmentId": "A1", "score": json.Number("50")}, ""},
		{"Fixed width timestamp", docstore.OpCreate, "grades", map[string]any{"studentId": "S1", "assignmentId": "A1", "score": 1.0, "submittedDate": "2024-01-01T00:00:00.500000000Z"}, ""},
		{"Short timestamp", docstore.OpCreate, "grades", map[string]any{"studentId": "S1", "assignmentId": "A1", "score": 1.0, "submittedDate": "2024-01-01T00:00:00.5Z"}, docstore.KindPolicyRejected},
		{"Bad timestamp", docstore.OpCreate, "grades", map[string]any{"studentId": "S1", "assignmentId": "A1", "score": 1.0, "submittedDate": "monday"}, docstore.KindPolicyRejected},
		{"Unknown collection", docstore.OpCreate, "teachers", map[string]any{"name": "Ms Smith"}, docstore.KindPermissionDenied},
		{"Delete skips field rules", docstore.OpDelete, "grades", map[string]any{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Check(ctx, anyone, tt.op, tt.collection, tt.doc, nil)
			if tt.kind == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.kind, docstore.KindOf(err), "err = %v", err)
		})
	}
}

const teacherRules = `
rules:
  - collection: grades
    allow: [create, update]
    roles: [teacher]
    fields:
      - field: studentId
        required: true
        references: students
  - collection: "*"
    allow: [create]
`

func TestRolesAndOperations(t *testing.T) {
	p, err := Parse([]byte(teacherRules))
	require.NoError(t, err)
	ctx := context.Background()
	exists := func(ctx context.Context, collection, id string) (bool, error) {
		return collection == "students" && id == "S1", nil
	}
	grade := map[string]any{"studentId": "S1"}

	assert.NoError(t, p.Check(ctx, Caller{Subject: "t1", Role: "teacher"}, docstore.OpCreate, "grades", grade, exists))

	err = p.Check(ctx, Caller{Subject: "s1", Role: "student"}, docstore.OpCreate, "grades", grade, exists)
	assert.True(t, errors.Is(err, docstore.ErrPermissionDenied))

	err = p.Check(ctx, Caller{Subject: "t1", Role: "teacher"}, docstore.OpDelete, "grades", grade, exists)
	assert.True(t, errors.Is(err, docstore.ErrPermissionDenied))

	err = p.Check(ctx, Caller{Subject: "t1", Role: "teacher"}, docstore.OpCreate, "grades", map[string]any{"studentId": "S2"}, exists)
	assert.True(t, errors.Is(err, docstore.ErrPolicyRejected))

	// the wildcard rule covers collections without their own rule
	assert.NoError(t, p.Check(ctx, Caller{}, docstore.OpCreate, "notes", map[string]any{}, nil))
	err = p.Check(ctx, Caller{}, docstore.OpUpdate, "notes", map[string]any{}, nil)
	assert.True(t, errors.Is(err, docstore.ErrPermissionDenied))
}

func TestReferenceLookupFailureIsBackendError(t *testing.T) {
	p, err := Parse([]byte(teacherRules))
	require.NoError(t, err)
	broken := func(ctx context.Context, collection, id string) (bool, error) {
		return false, errors.New("connection reset")
	}

	err = p.Check(context.Background(), Caller{Role: "teacher"}, docstore.OpCreate, "grades", map[string]any{"studentId": "S1"}, broken)
	assert.Equal(t, docstore.KindBackend, docstore.KindOf(err))
}

func TestParseRejectsBadRules(t *testing.T) {
	_, err := Parse([]byte("rules:\n  - allow: [create]\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("rules:\n  - collection: grades\n    allow: [upsert]\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("rules:\n  - collection: grades\n  - collection: grades\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("rules:\n  - collection: grades\n    fields:\n      - field: score\n        type: money\n"))
	assert.Error(t, err)
}

func TestCallerContext(t *testing.T) {
	ctx := context.Background()
	assert.True(t, CallerFrom(ctx).Anonymous())

	ctx = WithCaller(ctx, Caller{Subject: "u1", Role: "teacher"})
	assert.Equal(t, "teacher", CallerFrom(ctx).Role)
}
