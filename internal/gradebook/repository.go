// Package gradebook is the typed face of the document store: students,
// assignments and grades in and out of their document form.
package gradebook

import (
	"context"

	"gradebook/internal/docstore"
	"gradebook/internal/model"
	"gradebook/internal/query"
	"gradebook/internal/subscription"
)

// Validators returns the client options that check every write to the
// gradebook collections.
func Validators() []docstore.Option {
	return []docstore.Option{
		docstore.WithValidator(model.StudentsCollection, model.ValidateStudentFields),
		docstore.WithValidator(model.AssignmentsCollection, model.ValidateAssignmentFields),
		docstore.WithValidator(model.GradesCollection, model.ValidateGradeFields),
	}
}

// NewClient builds a client for backend with the gradebook validators
// installed ahead of opts.
func NewClient(backend docstore.Backend, opts ...docstore.Option) *docstore.Client {
	return docstore.NewClient(backend, append(Validators(), opts...)...)
}

type Repository struct {
	client *docstore.Client
	subs   *subscription.Manager
}

// New returns a repository over client. subs may be nil when no
// subscriptions are needed.
func New(client *docstore.Client, subs *subscription.Manager) *Repository {
	return &Repository{client: client, subs: subs}
}

func (r *Repository) Client() *docstore.Client {
	return r.client
}

func (r *Repository) AddStudent(ctx context.Context, s model.Student) (string, error) {
	if err := s.Validate(); err != nil {
		return "", docstore.NewError(docstore.KindValidation, "add student", err)
	}
	return r.client.AddDocument(ctx, model.StudentsCollection, s.Fields())
}

func (r *Repository) GetStudent(ctx context.Context, id string) (model.Student, bool, error) {
	return get(ctx, r.client, "get student", model.StudentsCollection, id, model.DecodeStudent)
}

// ListStudents returns every student ordered by name.
func (r *Repository) ListStudents(ctx context.Context) ([]model.Student, error) {
	q := query.New(model.StudentsCollection).OrderBy(model.FieldName, query.Asc)
	return list(ctx, r.client, "list students", q, model.DecodeStudent)
}

func (r *Repository) UpdateStudentEmail(ctx context.Context, id, email string) error {
	patch := map[string]any{model.FieldEmail: email}
	if err := model.ValidateStudentFields(patch, true); err != nil {
		return docstore.NewError(docstore.KindValidation, "update student", err)
	}
	return r.client.UpdateDocument(ctx, model.StudentsCollection, id, patch)
}

func (r *Repository) AddAssignment(ctx context.Context, a model.Assignment) (string, error) {
	if err := a.Validate(); err != nil {
		return "", docstore.NewError(docstore.KindValidation, "add assignment", err)
	}
	return r.client.AddDocument(ctx, model.AssignmentsCollection, a.Fields())
}

func (r *Repository) GetAssignment(ctx context.Context, id string) (model.Assignment, bool, error) {
	return get(ctx, r.client, "get assignment", model.AssignmentsCollection, id, model.DecodeAssignment)
}

func (r *Repository) AddGrade(ctx context.Context, g model.Grade) (string, error) {
	if err := g.Validate(); err != nil {
		return "", docstore.NewError(docstore.KindValidation, "add grade", err)
	}
	return r.client.AddDocument(ctx, model.GradesCollection, g.Fields())
}

func (r *Repository) GetGrade(ctx context.Context, id string) (model.Grade, bool, error) {
	return get(ctx, r.client, "get grade", model.GradesCollection, id, model.DecodeGrade)
}

// GradePatch changes the score, the feedback or both. Nil fields are left
// as they are.
type GradePatch struct {
	Score    *float64
	Feedback *string
}

func (p GradePatch) fields() map[string]any {
	fields := make(map[string]any)
	if p.Score != nil {
		fields[model.FieldScore] = *p.Score
	}
	if p.Feedback != nil {
		fields[model.FieldFeedback] = *p.Feedback
	}
	return fields
}

func (r *Repository) UpdateGrade(ctx context.Context, id string, p GradePatch) error {
	const op = "update grade"
	patch := p.fields()
	if len(patch) == 0 {
		return docstore.Errorf(docstore.KindInvalidArgument, op, "nothing to update")
	}
	if err := model.ValidateGradeFields(patch, true); err != nil {
		return docstore.NewError(docstore.KindValidation, op, err)
	}
	return r.client.UpdateDocument(ctx, model.GradesCollection, id, patch)
}

func (r *Repository) DeleteGrade(ctx context.Context, id string) error {
	return r.client.DeleteDocument(ctx, model.GradesCollection, id)
}

// StudentGradesQuery selects a student's grades, newest submission first.
func StudentGradesQuery(studentID string) query.Query {
	return query.New(model.GradesCollection).
		Where(model.FieldStudentID, studentID).
		OrderBy(model.FieldSubmittedDate, query.Desc)
}

func (r *Repository) ListGradesForStudent(ctx context.Context, studentID string) ([]model.Grade, error) {
	return list(ctx, r.client, "list grades", StudentGradesQuery(studentID), model.DecodeGrade)
}

func (r *Repository) ListGradesForAssignment(ctx context.Context, assignmentID string) ([]model.Grade, error) {
	q := query.New(model.GradesCollection).Where(model.FieldAssignmentID, assignmentID)
	return list(ctx, r.client, "list grades", q, model.DecodeGrade)
}

// RecordGrades stores grades in one atomic batch and returns their ids in
// input order. Either all of them are stored or none.
func (r *Repository) RecordGrades(ctx context.Context, grades []model.Grade) ([]string, error) {
	b := r.client.Batch()
	for _, g := range grades {
		b.Create(model.GradesCollection, g.Fields())
	}
	result, err := b.Commit(ctx)
	if err != nil {
		return nil, err
	}
	return result.IDs, nil
}

// StudentAverage is the mean score of a student's grades. ok is false when
// the student has none.
func (r *Repository) StudentAverage(ctx context.Context, studentID string) (avg float64, ok bool, err error) {
	grades, err := r.ListGradesForStudent(ctx, studentID)
	if err != nil || len(grades) == 0 {
		return 0, false, err
	}
	return Average(grades), true, nil
}

func Average(grades []model.Grade) float64 {
	if len(grades) == 0 {
		return 0
	}
	var sum float64
	for _, g := range grades {
		sum += g.Score
	}
	return sum / float64(len(grades))
}

func get[T any](ctx context.Context, c *docstore.Client, op, collection, id string, decode func(string, map[string]any) (T, error)) (T, bool, error) {
	var zero T
	doc, ok, err := c.GetDocument(ctx, collection, id)
	if err != nil || !ok {
		return zero, false, err
	}
	v, err := decode(doc.ID, doc.Fields)
	if err != nil {
		return zero, false, docstore.NewError(docstore.KindDecode, op, err)
	}
	return v, true, nil
}

func list[T any](ctx context.Context, c *docstore.Client, op string, q query.Query, decode func(string, map[string]any) (T, error)) ([]T, error) {
	docs, err := c.ListDocuments(ctx, q)
	if err != nil {
		return nil, err
	}
	return decodeAll(op, docs, decode)
}

func decodeAll[T any](op string, docs []docstore.Document, decode func(string, map[string]any) (T, error)) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		v, err := decode(doc.ID, doc.Fields)
		if err != nil {
			return nil, docstore.NewError(docstore.KindDecode, op, err)
		}
		out = append(out, v)
	}
	return out, nil
}
