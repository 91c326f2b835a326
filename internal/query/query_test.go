package query

import (
	"encoding/json"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderIsImmutable(t *testing.T) {
	base := New("grades").Where("studentId", "S1")
	ordered := base.OrderBy("submittedDate", Desc)
	limited := ordered.Limit(5)

	assert.Empty(t, base.Orders)
	assert.Equal(t, 0, ordered.MaxResults)
	assert.Equal(t, 5, limited.MaxResults)
	assert.Equal(t, []Order{{Field: "submittedDate", Direction: Desc}}, limited.Orders)
}

func TestWhereLastFilterWins(t *testing.T) {
	q := New("grades").Where("studentId", "S1").Where("score", 90).Where("studentId", "S2")

	require.Len(t, q.Filters, 2)
	assert.Equal(t, Filter{Field: "score", Value: 90}, q.Filters[0])
	assert.Equal(t, Filter{Field: "studentId", Value: "S2"}, q.Filters[1])
	assert.True(t, q.Match(map[string]any{"studentId": "S2", "score": 90.0}))
	assert.False(t, q.Match(map[string]any{"studentId": "S1", "score": 90.0}))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		q       Query
		wantErr bool
	}{
		{"Valid", New("grades").Where("studentId", "S1").OrderBy("score", Asc), false},
		{"Missing collection", New(""), true},
		{"Empty filter field", New("grades").Where("", 1), true},
		{"Bad direction", New("grades").OrderBy("score", "sideways"), true},
		{"Negative limit", New("grades").Limit(-1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.q.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMatchNormalizesNumbers(t *testing.T) {
	q := New("grades").Where("score", 95)
	assert.True(t, q.Match(map[string]any{"score": float64(95)}))
	assert.True(t, q.Match(map[string]any{"score": json.Number("95")}))
	assert.False(t, q.Match(map[string]any{"score": "95"}))
	assert.False(t, q.Match(map[string]any{}))
}

func TestLessOrdersByClauses(t *testing.T) {
	docs := []map[string]any{
		{"id": "a", "studentId": "S1", "score": 70.0},
		{"id": "b", "studentId": "S2", "score": 90.0},
		{"id": "c", "studentId": "S1", "score": 90.0},
		{"id": "d", "studentId": "S2"},
	}
	q := New("grades").OrderBy("score", Desc).OrderBy("studentId", Asc)
	sort.SliceStable(docs, func(i, j int) bool { return q.Less(docs[i], docs[j]) })

	var ids []string
	for _, d := range docs {
		ids = append(ids, d["id"].(string))
	}
	// missing fields sort as nil, which is lowest
	assert.Equal(t, []string{"c", "b", "a", "d"}, ids)
}

func TestCompareAcrossKinds(t *testing.T) {
	assert.Equal(t, -1, Compare(nil, false))
	assert.Equal(t, -1, Compare(true, 0))
	assert.Equal(t, -1, Compare(100, "1"))
	assert.Equal(t, 0, Compare(int64(3), 3.0))
	assert.Equal(t, 1, Compare("b", "a"))
}

func TestQueryJSONRoundTrip(t *testing.T) {
	q := New("grades").Where("studentId", "S1").OrderBy("submittedDate", Desc).Limit(10)
	data, err := json.Marshal(q)
	require.NoError(t, err)

	var decoded Query
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, q, decoded)
	assert.Equal(t, "grades where studentId==S1 order by submittedDate desc limit 10", decoded.String())
}
