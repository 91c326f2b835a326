package gradebook

import (
	"context"

	"gradebook/internal/docstore"
	"gradebook/internal/model"
	"gradebook/internal/subscription"
)

var errNoManager = docstore.Errorf(docstore.KindInvalidArgument, "subscribe", "repository has no subscription manager")

// GradesFunc receives the student's full grade list on each change, or the
// decode error of that delivery.
type GradesFunc func(grades []model.Grade, err error) error

// StudentFunc receives the student on each change. ok is false once the
// student is deleted.
type StudentFunc func(s model.Student, ok bool, err error) error

func (r *Repository) SubscribeStudentGrades(ctx context.Context, studentID string, fn GradesFunc, opts ...subscription.Option) (*subscription.Token, error) {
	if r.subs == nil {
		return nil, errNoManager
	}
	return r.subs.Subscribe(ctx, docstore.QueryTarget(StudentGradesQuery(studentID)), gradesCallback(fn), opts...)
}

// WatchStudentGrades follows a student's grades until ctx is done.
func (r *Repository) WatchStudentGrades(ctx context.Context, studentID string, fn GradesFunc, opts ...subscription.Option) error {
	if r.subs == nil {
		return errNoManager
	}
	return r.subs.Watch(ctx, docstore.QueryTarget(StudentGradesQuery(studentID)), gradesCallback(fn), opts...)
}

func (r *Repository) SubscribeStudent(ctx context.Context, id string, fn StudentFunc, opts ...subscription.Option) (*subscription.Token, error) {
	if r.subs == nil {
		return nil, errNoManager
	}
	target := docstore.DocumentTarget(model.StudentsCollection, id)
	return r.subs.Subscribe(ctx, target, func(s docstore.Snapshot) error {
		doc, ok := s.Document()
		if !ok {
			return fn(model.Student{}, false, nil)
		}
		student, err := model.DecodeStudent(doc.ID, doc.Fields)
		if err != nil {
			return fn(model.Student{}, false, docstore.NewError(docstore.KindDecode, "watch student", err))
		}
		return fn(student, true, nil)
	}, opts...)
}

func gradesCallback(fn GradesFunc) subscription.Callback {
	return func(s docstore.Snapshot) error {
		grades, err := decodeAll("watch grades", s.Documents, model.DecodeGrade)
		if err != nil {
			return fn(nil, err)
		}
		return fn(grades, nil)
	}
}
