// Package mock provides in-memory implementations of the store interfaces
// for testing. The attendance and sequence mocks honor the same uniqueness
// semantics as the Postgres backend, so concurrency tests against them are
// meaningful without a database.
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/classtrack/attendance-engine/internal/recognition"
	"github.com/classtrack/attendance-engine/internal/store"
)

type attendanceKey struct {
	StudentID string
	SubjectID string
	Date      string
}

func keyFor(studentID, subjectID string, date time.Time) attendanceKey {
	return attendanceKey{StudentID: studentID, SubjectID: subjectID, Date: store.Day(date).Format("2006-01-02")}
}

// AttendanceStore is an in-memory store.AttendanceWriter.
type AttendanceStore struct {
	mu      sync.Mutex
	records map[attendanceKey]store.AttendanceRecord

	// Error injection
	InsertError error
	GetError    error
	ListError   error
}

// NewAttendanceStore creates an empty attendance mock.
func NewAttendanceStore() *AttendanceStore {
	return &AttendanceStore{records: make(map[attendanceKey]store.AttendanceRecord)}
}

// Insert adds a record, enforcing the (student, subject, date) uniqueness
// invariant exactly like the database constraint does.
func (m *AttendanceStore) Insert(ctx context.Context, rec store.AttendanceRecord) error {
	if m.InsertError != nil {
		return m.InsertError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	k := keyFor(rec.StudentID, rec.SubjectID, rec.Date)
	if _, exists := m.records[k]; exists {
		return store.ErrDuplicateRecord
	}
	m.records[k] = rec
	return nil
}

// Get retrieves the record for a key, nil if none.
func (m *AttendanceStore) Get(ctx context.Context, studentID, subjectID string, date time.Time) (*store.AttendanceRecord, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[keyFor(studentID, subjectID, date)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// ListBySubjectDate returns all records for a subject on a date.
func (m *AttendanceStore) ListBySubjectDate(ctx context.Context, subjectID string, date time.Time) ([]store.AttendanceRecord, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	day := store.Day(date).Format("2006-01-02")
	var out []store.AttendanceRecord
	for k, rec := range m.records {
		if k.SubjectID == subjectID && k.Date == day {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

// ListByStudent returns a student's records within [from, to].
func (m *AttendanceStore) ListByStudent(ctx context.Context, studentID string, from, to time.Time) ([]store.AttendanceRecord, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []store.AttendanceRecord
	for _, rec := range m.records {
		if rec.StudentID != studentID {
			continue
		}
		d := store.Day(rec.Date)
		if d.Before(store.Day(from)) || d.After(store.Day(to)) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// MarkedStudents returns the set of student IDs with a record for the key.
func (m *AttendanceStore) MarkedStudents(ctx context.Context, subjectID string, date time.Time) (map[string]bool, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	day := store.Day(date).Format("2006-01-02")
	marked := make(map[string]bool)
	for k := range m.records {
		if k.SubjectID == subjectID && k.Date == day {
			marked[k.StudentID] = true
		}
	}
	return marked, nil
}

// Count returns the total number of stored records.
func (m *AttendanceStore) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

type sequenceScope struct {
	Prefix string
	Year   int
}

// SequenceStore is an in-memory store.SequenceStore.
type SequenceStore struct {
	mu     sync.Mutex
	codes  map[string]store.SequenceCode
	maxSeq map[sequenceScope]int

	// Error injection. CollisionsToInject forces the next N allocation
	// attempts to fail with ErrDuplicateRecord, simulating concurrent
	// allocators winning the candidate.
	TryError           error
	CollisionsToInject int
	Attempts           int
}

// NewSequenceStore creates an empty sequence mock.
func NewSequenceStore() *SequenceStore {
	return &SequenceStore{
		codes:  make(map[string]store.SequenceCode),
		maxSeq: make(map[sequenceScope]int),
	}
}

// TryAllocateCode performs one allocation attempt under the mock's lock.
func (m *SequenceStore) TryAllocateCode(ctx context.Context, prefix string, year int) (store.SequenceCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Attempts++
	if m.TryError != nil {
		return store.SequenceCode{}, m.TryError
	}
	if m.CollisionsToInject > 0 {
		m.CollisionsToInject--
		return store.SequenceCode{}, store.ErrDuplicateRecord
	}

	scope := sequenceScope{Prefix: prefix, Year: year}
	seq := m.maxSeq[scope] + 1
	code := store.FormatCode(prefix, year, seq)
	if _, exists := m.codes[code]; exists {
		return store.SequenceCode{}, store.ErrDuplicateRecord
	}

	sc := store.SequenceCode{Prefix: prefix, Year: year, Seq: seq, Code: code, AllocatedAt: time.Now().UTC()}
	m.codes[code] = sc
	m.maxSeq[scope] = seq
	return sc, nil
}

// CodeExists reports whether a code has been allocated.
func (m *SequenceStore) CodeExists(ctx context.Context, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.codes[code]
	return ok, nil
}

// Codes returns all allocated codes sorted by code.
func (m *SequenceStore) Codes() []store.SequenceCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.SequenceCode, 0, len(m.codes))
	for _, c := range m.codes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// IdentityStore is an in-memory store.IdentityWriter.
type IdentityStore struct {
	mu         sync.Mutex
	identities map[string]store.EnrolledIdentity
	nextID     int64

	// Error injection
	EnrollError error
	GetError    error
	FindError   error
}

// NewIdentityStore creates an empty identity mock.
func NewIdentityStore() *IdentityStore {
	return &IdentityStore{identities: make(map[string]store.EnrolledIdentity)}
}

// Enroll stores an embedding, overwriting any previous enrollment.
func (m *IdentityStore) Enroll(ctx context.Context, identity store.EnrolledIdentity) error {
	if m.EnrollError != nil {
		return m.EnrollError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.identities[identity.StudentID]; ok {
		identity.ID = existing.ID
	} else {
		m.nextID++
		identity.ID = m.nextID
	}
	if identity.EnrolledAt.IsZero() {
		identity.EnrolledAt = time.Now().UTC()
	}
	m.identities[identity.StudentID] = identity
	return nil
}

// DeleteByStudent removes a student's enrollment.
func (m *IdentityStore) DeleteByStudent(ctx context.Context, studentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.identities, studentID)
	return nil
}

// GetByStudent retrieves an enrollment, nil if none.
func (m *IdentityStore) GetByStudent(ctx context.Context, studentID string) (*store.EnrolledIdentity, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.identities[studentID]
	if !ok {
		return nil, nil
	}
	return &id, nil
}

// All returns every enrolled identity sorted by student ID.
func (m *IdentityStore) All(ctx context.Context) ([]store.EnrolledIdentity, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]store.EnrolledIdentity, 0, len(m.identities))
	for _, id := range m.identities {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

// Count returns the number of enrolled identities.
func (m *IdentityStore) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.identities), nil
}

// FindSimilar returns the closest identities by cosine distance.
func (m *IdentityStore) FindSimilar(ctx context.Context, embedding []float32, limit int) ([]store.EnrolledIdentity, []float64, error) {
	if m.FindError != nil {
		return nil, nil, m.FindError
	}

	all, err := m.All(ctx)
	if err != nil {
		return nil, nil, err
	}

	type scored struct {
		identity store.EnrolledIdentity
		distance float64
	}
	ranked := make([]scored, 0, len(all))
	for _, id := range all {
		ranked = append(ranked, scored{identity: id, distance: 1 - recognition.CosineSimilarity(embedding, id.Embedding)})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].distance < ranked[j].distance })

	if limit > 0 && limit < len(ranked) {
		ranked = ranked[:limit]
	}
	identities := make([]store.EnrolledIdentity, len(ranked))
	distances := make([]float64, len(ranked))
	for i, s := range ranked {
		identities[i] = s.identity
		distances[i] = s.distance
	}
	return identities, distances, nil
}

// ScheduleStore is an in-memory store.ScheduleReader.
type ScheduleStore struct {
	mu       sync.Mutex
	Sessions []store.ScheduledSession

	SessionsError error
}

// NewScheduleStore creates a schedule mock serving the given sessions.
func NewScheduleStore(sessions ...store.ScheduledSession) *ScheduleStore {
	return &ScheduleStore{Sessions: sessions}
}

// SessionsForDay filters the configured sessions by weekday.
func (m *ScheduleStore) SessionsForDay(ctx context.Context, day time.Weekday) ([]store.ScheduledSession, error) {
	if m.SessionsError != nil {
		return nil, m.SessionsError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []store.ScheduledSession
	for _, s := range m.Sessions {
		if s.DayOfWeek == day {
			out = append(out, s)
		}
	}
	return out, nil
}

// RosterStore is an in-memory store.RosterReader keyed by subject ID.
type RosterStore struct {
	mu      sync.Mutex
	Rosters map[string][]store.Student

	RosterError error
}

// NewRosterStore creates an empty roster mock.
func NewRosterStore() *RosterStore {
	return &RosterStore{Rosters: make(map[string][]store.Student)}
}

// SetRoster sets the enrolled students for a subject.
func (m *RosterStore) SetRoster(subjectID string, students ...store.Student) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Rosters[subjectID] = students
}

// EnrolledStudents returns the roster for a session's subject.
func (m *RosterStore) EnrolledStudents(ctx context.Context, session store.ScheduledSession) ([]store.Student, error) {
	if m.RosterError != nil {
		return nil, m.RosterError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Rosters[session.SubjectID], nil
}
