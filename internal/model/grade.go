package model

import "time"

const GradesCollection = "grades"

const (
	FieldStudentID     = "studentId"
	FieldAssignmentID  = "assignmentId"
	FieldScore         = "score"
	FieldSubmittedDate = "submittedDate"
	FieldFeedback      = "feedback"
)

const (
	MinScore = 0
	MaxScore = 100
)

// Grade links a student to an assignment by id. Whether those ids exist is
// decided by the backend policy, not here.
type Grade struct {
	ID            string    `json:"id"`
	StudentID     string    `json:"studentId"`
	AssignmentID  string    `json:"assignmentId"`
	Score         float64   `json:"score"`
	SubmittedDate time.Time `json:"submittedDate"`
	Feedback      string    `json:"feedback,omitempty"`
}

func (g Grade) Validate() error {
	return ValidateGradeFields(g.Fields(), false)
}

func (g Grade) Fields() map[string]any {
	fields := map[string]any{
		FieldStudentID:    g.StudentID,
		FieldAssignmentID: g.AssignmentID,
		FieldScore:        g.Score,
	}
	if !g.SubmittedDate.IsZero() {
		fields[FieldSubmittedDate] = FormatTime(g.SubmittedDate)
	}
	if g.Feedback != "" {
		fields[FieldFeedback] = g.Feedback
	}
	return fields
}

func ValidateGradeFields(fields map[string]any, partial bool) error {
	if err := checkPresent(GradesCollection, fields, partial, FieldStudentID, FieldAssignmentID, FieldScore); err != nil {
		return err
	}
	for _, field := range []string{FieldStudentID, FieldAssignmentID} {
		if v, ok := fields[field]; ok {
			ref, ok := v.(string)
			if !ok || ref == "" {
				return invalid(GradesCollection, field, "must be a non-empty id")
			}
		}
	}
	if v, ok := fields[FieldScore]; ok {
		score, ok := numberValue(v)
		if !ok {
			return invalid(GradesCollection, FieldScore, "must be a number")
		}
		if !finite(score) || score < MinScore || score > MaxScore {
			return invalid(GradesCollection, FieldScore, "must be between 0 and 100")
		}
	}
	if v, ok := fields[FieldSubmittedDate]; ok && v != nil {
		if err := checkTime(v); err != nil {
			return invalid(GradesCollection, FieldSubmittedDate, err.Error())
		}
	}
	if v, ok := fields[FieldFeedback]; ok && v != nil {
		if _, ok := v.(string); !ok {
			return invalid(GradesCollection, FieldFeedback, "must be a string")
		}
	}
	return nil
}

func DecodeGrade(id string, fields map[string]any) (Grade, error) {
	d := decoder{entity: GradesCollection, fields: fields}
	g := Grade{
		ID:            id,
		StudentID:     d.str(FieldStudentID, true),
		AssignmentID:  d.str(FieldAssignmentID, true),
		Score:         d.number(FieldScore, true),
		SubmittedDate: d.time(FieldSubmittedDate, false),
		Feedback:      d.str(FieldFeedback, false),
	}
	if d.err != nil {
		return Grade{}, d.err
	}
	return g, nil
}
