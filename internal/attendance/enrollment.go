package attendance

import (
	"context"
	"fmt"

	"schoolattend/internal/model"
	"schoolattend/internal/scan"
)

// EnrollmentRow is one hit of the student/subject/teacher join.
type EnrollmentRow struct {
	Student       model.ScannedIdentity
	SubjectName   string
	SubjectGrade  int
	SubjectStrand string
}

// Diagnosis explains why the enrollment join returned nothing.
type Diagnosis struct {
	StudentExists   bool
	SubjectExists   bool
	Enrolled        bool
	TeacherAssigned bool
	StudentSection  string
}

// Directory reads school rosters from the canonical store.
type Directory interface {
	// Actor returns nil when the teacher is unknown.
	Actor(ctx context.Context, teacherID string) (*model.ActorContext, error)
	// Enrollment returns nil when the student is not enrolled in a subject the
	// teacher is assigned to for the student's section.
	Enrollment(ctx context.Context, teacherID, subjectID, studentID string) (*EnrollmentRow, error)
	Diagnose(ctx context.Context, teacherID, subjectID, studentID string) (Diagnosis, error)
	// Student returns nil when unknown.
	Student(ctx context.Context, studentID string) (*model.ScannedIdentity, error)
}

const seniorHighGrade = 11

// EnrollmentValidator is the authoritative, roster-backed eligibility check.
type EnrollmentValidator struct {
	dir Directory
}

func NewEnrollmentValidator(dir Directory) *EnrollmentValidator {
	return &EnrollmentValidator{dir: dir}
}

// Validate checks that the scanned student is enrolled in subjectID, that the teacher teaches
// it to the student's section, that grades agree and, for senior high subjects with a strand,
// that strands agree.
func (v *EnrollmentValidator) Validate(ctx context.Context, id model.ScannedIdentity, teacherID, subjectID string) (scan.ValidationResult, error) {
	if teacherID == "" {
		return scan.Reject(id, scan.ReasonNoActor, "no teacher session; log in before scanning"), nil
	}
	row, err := v.dir.Enrollment(ctx, teacherID, subjectID, id.StudentID)
	if err != nil {
		return scan.ValidationResult{}, fmt.Errorf("enrollment lookup: %w", err)
	}
	if row == nil {
		d, err := v.dir.Diagnose(ctx, teacherID, subjectID, id.StudentID)
		if err != nil {
			return scan.ValidationResult{}, fmt.Errorf("enrollment diagnose: %w", err)
		}
		return diagnosed(id, subjectID, d), nil
	}

	student := row.Student
	if student.GradeLevel != row.SubjectGrade {
		return scan.Reject(student, scan.ReasonGradeMismatch,
			fmt.Sprintf("student is grade %d, %s is grade %d", student.GradeLevel, row.SubjectName, row.SubjectGrade)), nil
	}
	if row.SubjectGrade >= seniorHighGrade && row.SubjectStrand != "" && student.Strand != row.SubjectStrand {
		return scan.Reject(student, scan.ReasonStrandMismatch,
			fmt.Sprintf("student strand %q does not match %s strand %q", student.Strand, row.SubjectName, row.SubjectStrand)), nil
	}
	return scan.Accept(student), nil
}

func diagnosed(id model.ScannedIdentity, subjectID string, d Diagnosis) scan.ValidationResult {
	switch {
	case !d.StudentExists:
		return scan.Reject(id, scan.ReasonStudentNotFound, fmt.Sprintf("student %s not found", id.StudentID))
	case !d.SubjectExists:
		return scan.Reject(id, scan.ReasonSubjectNotFound, fmt.Sprintf("subject %s not found", subjectID))
	case !d.Enrolled:
		return scan.Reject(id, scan.ReasonNotEnrolled, fmt.Sprintf("student %s is not enrolled in subject %s", id.StudentID, subjectID))
	case !d.TeacherAssigned:
		return scan.Reject(id, scan.ReasonNotAssigned,
			fmt.Sprintf("you are not assigned to subject %s for section %s", subjectID, d.StudentSection))
	}
	return scan.Reject(id, scan.ReasonNotEnrolled, "student is not eligible for this class")
}
