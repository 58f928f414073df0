package scan

import (
	"fmt"

	"schoolattend/internal/model"
)

// Reason classifies why a scan was rejected.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonInvalidFormat   Reason = "INVALID_FORMAT"
	ReasonNoActor         Reason = "NO_ACTOR"
	ReasonSchoolMismatch  Reason = "SCHOOL_MISMATCH"
	ReasonGradeMismatch   Reason = "GRADE_MISMATCH"
	ReasonSectionMismatch Reason = "SECTION_MISMATCH"
	ReasonStrandMismatch  Reason = "STRAND_MISMATCH"
	ReasonStudentNotFound Reason = "STUDENT_NOT_FOUND"
	ReasonSubjectNotFound Reason = "SUBJECT_NOT_FOUND"
	ReasonNotEnrolled     Reason = "NOT_ENROLLED"
	ReasonNotAssigned     Reason = "TEACHER_NOT_ASSIGNED"
)

// ValidationResult is the eligibility decision for one scan.
type ValidationResult struct {
	IsValid  bool                  `json:"isValid"`
	Reason   Reason                `json:"reason,omitempty"`
	Message  string                `json:"message"`
	Identity model.ScannedIdentity `json:"identity"`
}

// Reject builds a failed result.
func Reject(id model.ScannedIdentity, reason Reason, msg string) ValidationResult {
	return ValidationResult{Reason: reason, Message: msg, Identity: id}
}

// Accept builds a successful result with a confirmation message.
func Accept(id model.ScannedIdentity) ValidationResult {
	msg := fmt.Sprintf("%s (%s)", id.FullName, id.StudentID)
	if id.GradeLevel > 0 {
		msg = fmt.Sprintf("%s - Grade %d %s", msg, id.GradeLevel, id.Section)
	}
	return ValidationResult{IsValid: true, Message: msg, Identity: id}
}

// Validate checks an identity against the scanning actor. Checks short-circuit on the
// first mismatch; empty or zero actor fields disable the matching check.
func Validate(id model.ScannedIdentity, actor *model.ActorContext) ValidationResult {
	if actor == nil {
		return Reject(id, ReasonNoActor, "no teacher session; log in before scanning")
	}
	if actor.SchoolID != "" && id.SchoolID != "" && actor.SchoolID != id.SchoolID {
		return Reject(id, ReasonSchoolMismatch,
			fmt.Sprintf("student belongs to school %s, not %s", id.SchoolID, actor.SchoolID))
	}
	if actor.GradeLevel > 0 && id.GradeLevel > 0 && actor.GradeLevel != id.GradeLevel {
		return Reject(id, ReasonGradeMismatch,
			fmt.Sprintf("student is grade %d, class is grade %d", id.GradeLevel, actor.GradeLevel))
	}
	if actor.Section != "" && id.Section != "" && actor.Section != id.Section {
		return Reject(id, ReasonSectionMismatch,
			fmt.Sprintf("student is in section %s, class is section %s", id.Section, actor.Section))
	}
	return Accept(id)
}

// ValidateRaw parses and validates in one step.
func ValidateRaw(raw string, actor *model.ActorContext) ValidationResult {
	var ctx model.ActorContext
	if actor != nil {
		ctx = *actor
	}
	res, err := Parse(raw, ctx)
	if err != nil {
		return Reject(model.ScannedIdentity{}, ReasonInvalidFormat, "invalid QR code")
	}
	return Validate(res.Identity, actor)
}
