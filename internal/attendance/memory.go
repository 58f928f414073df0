package attendance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"schoolattend/internal/model"
)

// MemoryStore keeps attendance and rosters in process memory. It backs the
// API when no database is configured and the package tests.
type MemoryStore struct {
	mu          sync.Mutex
	rows        map[string]model.DailyRecord
	schedules   map[string]model.Clock
	teachers    map[string]model.ActorContext
	students    map[string]model.ScannedIdentity
	subjects    map[string]memSubject
	assignments map[string]bool
	enrollments map[string]bool
	refresh     map[string]time.Time
	seq         int
	now         func() time.Time
}

type memSubject struct {
	name   string
	grade  int
	strand string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:        map[string]model.DailyRecord{},
		schedules:   map[string]model.Clock{},
		teachers:    map[string]model.ActorContext{},
		students:    map[string]model.ScannedIdentity{},
		subjects:    map[string]memSubject{},
		assignments: map[string]bool{},
		enrollments: map[string]bool{},
		refresh:     map[string]time.Time{},
		now:         time.Now,
	}
}

func (m *MemoryStore) ListDay(_ context.Context, studentID string, day model.Day) ([]model.DailyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.DailyRecord
	for _, r := range m.rows {
		if r.StudentID == studentID && r.Date == day {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) Insert(_ context.Context, rec model.DailyRecord) (model.DailyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	if rec.AttendanceID == "" {
		rec.AttendanceID = fmt.Sprintf("att-%d", m.seq)
	}
	if rec.Status == "" {
		rec.Status = model.StatusNotMarked
	}
	// seq breaks ties between rows created within the same clock tick
	rec.CreatedAt = m.now().Add(time.Duration(m.seq) * time.Nanosecond)
	rec.UpdatedAt = rec.CreatedAt
	m.rows[rec.AttendanceID] = rec
	return rec, nil
}

func (m *MemoryStore) UpdateTimeIn(_ context.Context, id string, timeIn model.Clock, status model.Status, remarks string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	r.TimeIn, r.Status, r.Remarks = model.ClockPtr(timeIn), status, remarks
	m.rows[id] = r
	return nil
}

func (m *MemoryStore) UpdateTimeOut(_ context.Context, id string, timeOut model.Clock, status model.Status, remarks string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || r.TimeOut != nil {
		return ErrNotFound
	}
	r.TimeOut, r.Status, r.Remarks = model.ClockPtr(timeOut), status, remarks
	m.rows[id] = r
	return nil
}

func (m *MemoryStore) UpdateMerged(_ context.Context, rec model.DailyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[rec.AttendanceID]; !ok {
		return ErrNotFound
	}
	m.rows[rec.AttendanceID] = rec
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.rows, id)
	}
	return nil
}

func (m *MemoryStore) SubjectSchedule(_ context.Context, subjectID string) (*model.Clock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.schedules[subjectID]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

// Len reports the number of attendance rows.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// ListRecords returns rows matching the filter, newest first.
func (m *MemoryStore) ListRecords(_ context.Context, f ListFilter) ([]model.DailyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.DailyRecord
	for _, r := range m.rows {
		if f.StudentID != "" && r.StudentID != f.StudentID {
			continue
		}
		if !f.Date.IsZero() && r.Date != f.Date {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// AddTeacher registers an actor.
func (m *MemoryStore) AddTeacher(a model.ActorContext) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teachers[a.TeacherID] = a
}

// AddStudent registers a roster entry.
func (m *MemoryStore) AddStudent(s model.ScannedIdentity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students[s.StudentID] = s
}

// AddSubject registers a subject; start may be nil.
func (m *MemoryStore) AddSubject(subjectID, name string, grade int, strand string, start *model.Clock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects[subjectID] = memSubject{name: name, grade: grade, strand: strand}
	if start != nil {
		m.schedules[subjectID] = *start
	}
}

// Assign lets teacherID take attendance for subjectID in section.
func (m *MemoryStore) Assign(teacherID, subjectID, section string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments[teacherID+"|"+subjectID+"|"+section] = true
}

// Enroll adds studentID to subjectID.
func (m *MemoryStore) Enroll(studentID, subjectID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enrollments[studentID+"|"+subjectID] = true
}

func (m *MemoryStore) Actor(_ context.Context, teacherID string) (*model.ActorContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.teachers[teacherID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *MemoryStore) Student(_ context.Context, studentID string) (*model.ScannedIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.students[studentID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *MemoryStore) Enrollment(ctx context.Context, teacherID, subjectID, studentID string) (*EnrollmentRow, error) {
	d, _ := m.Diagnose(ctx, teacherID, subjectID, studentID)
	if !d.StudentExists || !d.SubjectExists || !d.Enrolled || !d.TeacherAssigned {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := m.subjects[subjectID]
	return &EnrollmentRow{Student: m.students[studentID], SubjectName: sub.name, SubjectGrade: sub.grade, SubjectStrand: sub.strand}, nil
}

func (m *MemoryStore) Diagnose(_ context.Context, teacherID, subjectID, studentID string) (Diagnosis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var d Diagnosis
	s, ok := m.students[studentID]
	d.StudentExists = ok
	d.StudentSection = s.Section
	_, d.SubjectExists = m.subjects[subjectID]
	d.Enrolled = m.enrollments[studentID+"|"+subjectID]
	d.TeacherAssigned = ok && m.assignments[teacherID+"|"+subjectID+"|"+s.Section]
	return d, nil
}

func (m *MemoryStore) UpsertDevice(_ context.Context, deviceID string) error {
	if deviceID == "" {
		return fmt.Errorf("device id required")
	}
	return nil
}

func (m *MemoryStore) SaveRefreshToken(_ context.Context, deviceID, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh[deviceID+"|"+token] = expiresAt
	return nil
}

func (m *MemoryStore) ConsumeRefreshToken(_ context.Context, deviceID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := deviceID + "|" + token
	exp, ok := m.refresh[k]
	if !ok || !m.now().Before(exp) {
		return ErrNotFound
	}
	delete(m.refresh, k)
	return nil
}
