package model

import "time"

// AttendanceType distinguishes the two scans a student makes per day.
type AttendanceType string

const (
	TimeIn  AttendanceType = "TIME_IN"
	TimeOut AttendanceType = "TIME_OUT"
)

// Valid reports whether t is one of the known attendance types.
func (t AttendanceType) Valid() bool {
	return t == TimeIn || t == TimeOut
}

// Status is the derived attendance status of a student-day.
type Status string

const (
	StatusNotMarked Status = "NOT_MARKED"
	StatusPresent   Status = "PRESENT"
	StatusLate      Status = "LATE"
	StatusHalfDay   Status = "HALF_DAY"
	StatusWholeDay  Status = "WHOLE_DAY"
)

// ScannedIdentity is the student identity decoded from a QR payload.
// GradeLevel 0 means unknown.
type ScannedIdentity struct {
	StudentID  string `json:"studentId" validate:"required"`
	FullName   string `json:"fullName" validate:"required"`
	GradeLevel int    `json:"gradeLevel" validate:"min=0"`
	Section    string `json:"section" validate:"required"`
	SchoolID   string `json:"schoolId" validate:"required"`
	Strand     string `json:"strand,omitempty"`
}

// ActorContext describes the teacher (or device) performing scans.
// Zero GradeLevel and empty Section mean "unrestricted".
type ActorContext struct {
	TeacherID  string `json:"teacherId"`
	SchoolID   string `json:"schoolId"`
	GradeLevel int    `json:"gradeLevel"`
	Section    string `json:"section"`
	Strand     string `json:"strand,omitempty"`
}

// DailyRecord is the canonical attendance row for one student-day.
type DailyRecord struct {
	AttendanceID string    `json:"attendanceId"`
	StudentID    string    `json:"studentId"`
	Date         Day       `json:"date"`
	TimeIn       *Clock    `json:"timeIn,omitempty"`
	TimeOut      *Clock    `json:"timeOut,omitempty"`
	Status       Status    `json:"status"`
	Remarks      string    `json:"remarks"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// OfflineEvent is a scan captured on the device while disconnected.
type OfflineEvent struct {
	ID             int64          `json:"id"`
	StudentID      string         `json:"studentId"`
	AttendanceType AttendanceType `json:"attendanceType"`
	ScanTime       time.Time      `json:"scanTime"`
	DeviceID       string         `json:"deviceId"`
	IsSynced       bool           `json:"isSynced"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// SyncRecord is one consolidated student-day submitted to the bulk sync endpoint.
type SyncRecord struct {
	StudentID string `json:"studentId"`
	Date      Day    `json:"date"`
	TimeIn    *Clock `json:"timeIn,omitempty"`
	TimeOut   *Clock `json:"timeOut,omitempty"`
	Status    Status `json:"status"`
	Remarks   string `json:"remarks"`
}

// SyncResult reports the outcome of one SyncRecord on the server.
type SyncResult struct {
	StudentID string `json:"studentId"`
	Date      Day    `json:"date"`
	Applied   bool   `json:"applied"`
	Error     string `json:"error,omitempty"`
}
