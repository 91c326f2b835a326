package model

import (
	"strings"
	"time"
	"unicode/utf8"
)

const StudentsCollection = "students"

// Student fields as stored in a document.
const (
	FieldName           = "name"
	FieldEmail          = "email"
	FieldEnrollmentDate = "enrollmentDate"
)

type Student struct {
	ID             string    `json:"id"` // assigned by the backend
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	EnrollmentDate time.Time `json:"enrollmentDate"`
}

func (s Student) Validate() error {
	return ValidateStudentFields(s.Fields(), false)
}

// Fields encodes the student into a document field map. The id is not part
// of the fields; it is the document's address.
func (s Student) Fields() map[string]any {
	fields := map[string]any{
		FieldName:  s.Name,
		FieldEmail: s.Email,
	}
	if !s.EnrollmentDate.IsZero() {
		fields[FieldEnrollmentDate] = FormatTime(s.EnrollmentDate)
	}
	return fields
}

// ValidateStudentFields checks a student payload. With partial set only the
// fields present are checked, which is what an update patch needs.
func ValidateStudentFields(fields map[string]any, partial bool) error {
	if err := checkPresent(StudentsCollection, fields, partial, FieldName, FieldEmail); err != nil {
		return err
	}
	if v, ok := fields[FieldName]; ok {
		name, ok := v.(string)
		if !ok {
			return invalid(StudentsCollection, FieldName, "must be a string")
		}
		if utf8.RuneCountInString(name) < 2 {
			return invalid(StudentsCollection, FieldName, "must be at least 2 characters")
		}
	}
	if v, ok := fields[FieldEmail]; ok {
		email, ok := v.(string)
		if !ok {
			return invalid(StudentsCollection, FieldEmail, "must be a string")
		}
		if !strings.Contains(email, "@") {
			return invalid(StudentsCollection, FieldEmail, "must contain @")
		}
	}
	if v, ok := fields[FieldEnrollmentDate]; ok && v != nil {
		if err := checkTime(v); err != nil {
			return invalid(StudentsCollection, FieldEnrollmentDate, err.Error())
		}
	}
	return nil
}

func DecodeStudent(id string, fields map[string]any) (Student, error) {
	d := decoder{entity: StudentsCollection, fields: fields}
	s := Student{
		ID:             id,
		Name:           d.str(FieldName, true),
		Email:          d.str(FieldEmail, true),
		EnrollmentDate: d.time(FieldEnrollmentDate, false),
	}
	if d.err != nil {
		return Student{}, d.err
	}
	return s, nil
}
