package attendance

import (
	"context"
	"database/sql"
	"errors"

	"schoolattend/internal/model"
)

// Actor loads a teacher's scanning context.
func (r *Repository) Actor(ctx context.Context, teacherID string) (*model.ActorContext, error) {
	var a model.ActorContext
	err := r.do(ctx, func(ctx context.Context) error {
		return r.db.QueryRowContext(ctx, `
			SELECT teacher_id, school_id, grade_level, section, strand
			FROM teachers WHERE teacher_id = $1
		`, teacherID).Scan(&a.TeacherID, &a.SchoolID, &a.GradeLevel, &a.Section, &a.Strand)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// Student loads a roster entry.
func (r *Repository) Student(ctx context.Context, studentID string) (*model.ScannedIdentity, error) {
	var s model.ScannedIdentity
	err := r.do(ctx, func(ctx context.Context) error {
		return r.db.QueryRowContext(ctx, `
			SELECT student_id, full_name, grade_level, section, school_id, strand
			FROM students WHERE student_id = $1
		`, studentID).Scan(&s.StudentID, &s.FullName, &s.GradeLevel, &s.Section, &s.SchoolID, &s.Strand)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// Enrollment joins student, enrollment, subject and teacher assignment.
func (r *Repository) Enrollment(ctx context.Context, teacherID, subjectID, studentID string) (*EnrollmentRow, error) {
	var row EnrollmentRow
	err := r.do(ctx, func(ctx context.Context) error {
		return r.db.QueryRowContext(ctx, `
			SELECT s.student_id, s.full_name, s.grade_level, s.section, s.school_id, s.strand,
				sub.name, sub.grade_level, sub.strand
			FROM students s
			JOIN enrollments e ON e.student_id = s.student_id
			JOIN subjects sub ON sub.subject_id = e.subject_id
			JOIN teacher_assignments ta ON ta.subject_id = sub.subject_id AND ta.section = s.section
			WHERE s.student_id = $1 AND sub.subject_id = $2 AND ta.teacher_id = $3
			LIMIT 1
		`, studentID, subjectID, teacherID).Scan(
			&row.Student.StudentID, &row.Student.FullName, &row.Student.GradeLevel, &row.Student.Section,
			&row.Student.SchoolID, &row.Student.Strand, &row.SubjectName, &row.SubjectGrade, &row.SubjectStrand,
		)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// Diagnose runs the fallback query that pinpoints which join step failed.
func (r *Repository) Diagnose(ctx context.Context, teacherID, subjectID, studentID string) (Diagnosis, error) {
	var (
		d       Diagnosis
		section sql.NullString
	)
	err := r.do(ctx, func(ctx context.Context) error {
		return r.db.QueryRowContext(ctx, `
			SELECT
				(SELECT section FROM students WHERE student_id = $1),
				EXISTS (SELECT 1 FROM subjects WHERE subject_id = $2),
				EXISTS (SELECT 1 FROM enrollments WHERE student_id = $1 AND subject_id = $2),
				EXISTS (
					SELECT 1 FROM teacher_assignments ta
					JOIN students s ON s.section = ta.section
					WHERE ta.teacher_id = $3 AND ta.subject_id = $2 AND s.student_id = $1
				)
		`, studentID, subjectID, teacherID).Scan(&section, &d.SubjectExists, &d.Enrolled, &d.TeacherAssigned)
	})
	if err != nil {
		return Diagnosis{}, err
	}
	d.StudentExists = section.Valid
	d.StudentSection = section.String
	return d, nil
}
