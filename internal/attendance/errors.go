package attendance

import "errors"

// RejectionCode identifies a state machine precondition failure.
type RejectionCode string

const (
	CodeNoTimeInFound RejectionCode = "NO_TIME_IN_FOUND"
	CodeAlreadyMarked RejectionCode = "ALREADY_MARKED"
)

// Rejection is returned when a transition is not allowed for the student-day.
type Rejection struct {
	Code    RejectionCode `json:"code"`
	Message string        `json:"message"`
}

func (r *Rejection) Error() string { return r.Message }

var (
	ErrNoTimeInFound = &Rejection{Code: CodeNoTimeInFound, Message: "no time-in found for this student today"}
	ErrAlreadyMarked = &Rejection{Code: CodeAlreadyMarked, Message: "attendance already marked for this student today"}

	ErrInvalidRequest = errors.New("student id and date are required")
	ErrNotFound       = errors.New("not found")
)

// AsRejection extracts a *Rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// Is matches rejections by code so decoded wire errors compare equal.
func (r *Rejection) Is(target error) bool {
	t, ok := target.(*Rejection)
	return ok && t.Code == r.Code
}
