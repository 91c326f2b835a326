package model

import "time"

const AssignmentsCollection = "assignments"

const (
	FieldTitle       = "title"
	FieldDueDate     = "dueDate"
	FieldTotalPoints = "totalPoints"
	FieldDescription = "description"
)

type Assignment struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	DueDate     time.Time `json:"dueDate"`
	TotalPoints float64   `json:"totalPoints"`
	Description string    `json:"description,omitempty"`
}

func (a Assignment) Validate() error {
	return ValidateAssignmentFields(a.Fields(), false)
}

func (a Assignment) Fields() map[string]any {
	fields := map[string]any{
		FieldTitle:       a.Title,
		FieldTotalPoints: a.TotalPoints,
	}
	if !a.DueDate.IsZero() {
		fields[FieldDueDate] = FormatTime(a.DueDate)
	}
	if a.Description != "" {
		fields[FieldDescription] = a.Description
	}
	return fields
}

func ValidateAssignmentFields(fields map[string]any, partial bool) error {
	if err := checkPresent(AssignmentsCollection, fields, partial, FieldTitle, FieldTotalPoints); err != nil {
		return err
	}
	if v, ok := fields[FieldTitle]; ok {
		if _, ok := v.(string); !ok {
			return invalid(AssignmentsCollection, FieldTitle, "must be a string")
		}
	}
	if v, ok := fields[FieldTotalPoints]; ok {
		points, ok := numberValue(v)
		if !ok {
			return invalid(AssignmentsCollection, FieldTotalPoints, "must be a number")
		}
		if !finite(points) {
			return invalid(AssignmentsCollection, FieldTotalPoints, "must be a finite number")
		}
		if points <= 0 {
			return invalid(AssignmentsCollection, FieldTotalPoints, "must be greater than 0")
		}
	}
	if v, ok := fields[FieldDueDate]; ok && v != nil {
		if err := checkTime(v); err != nil {
			return invalid(AssignmentsCollection, FieldDueDate, err.Error())
		}
	}
	if v, ok := fields[FieldDescription]; ok && v != nil {
		if _, ok := v.(string); !ok {
			return invalid(AssignmentsCollection, FieldDescription, "must be a string")
		}
	}
	return nil
}

func DecodeAssignment(id string, fields map[string]any) (Assignment, error) {
	d := decoder{entity: AssignmentsCollection, fields: fields}
	a := Assignment{
		ID:          id,
		Title:       d.str(FieldTitle, true),
		DueDate:     d.time(FieldDueDate, false),
		TotalPoints: d.number(FieldTotalPoints, true),
		Description: d.str(FieldDescription, false),
	}
	if d.err != nil {
		return Assignment{}, d.err
	}
	return a, nil
}
