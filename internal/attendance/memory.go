package attendance

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"geoattend/internal/civilday"
)

// Student is a directory entry used to denormalize query results.
type Student struct {
	ID    string
	Name  string
	Email string
}

type dayKey struct {
	studentID string
	day       string
}

// MemoryRepository is a process-local Repository for development and tests.
type MemoryRepository struct {
	loc *time.Location

	mu       sync.Mutex
	records  map[string]*Record
	byDay    map[dayKey]string
	students map[string]Student
	now      func() time.Time
}

// NewMemoryRepository creates an empty repository that derives civil days in loc.
func NewMemoryRepository(loc *time.Location) *MemoryRepository {
	return &MemoryRepository{
		loc:      loc,
		records:  make(map[string]*Record),
		byDay:    make(map[dayKey]string),
		students: make(map[string]Student),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// AddStudent registers display details for a student id.
func (m *MemoryRepository) AddStudent(s Student) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students[s.ID] = s
}

func (m *MemoryRepository) FindInWindow(_ context.Context, studentID string, start, end time.Time) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.StudentID == studentID && !r.InTime.Before(start) && r.InTime.Before(end) {
			cp := copyRecord(*r)
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryRepository) CreateOrFetch(_ context.Context, rec Record) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := dayKey{studentID: rec.StudentID, day: civilday.DayOf(rec.InTime, m.loc)}
	if id, ok := m.byDay[key]; ok {
		return copyRecord(*m.records[id]), false, nil
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.now()
	}
	stored := copyRecord(rec)
	m.records[rec.ID] = &stored
	m.byDay[key] = rec.ID
	return copyRecord(stored), true, nil
}

func (m *MemoryRepository) Complete(_ context.Context, id string, outTime time.Time, topic, staffName string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok || r.OutTime != nil {
		return false, nil
	}
	r.OutTime = &outTime
	r.Topic = &topic
	r.StaffName = &staffName
	return true, nil
}

func (m *MemoryRepository) Count(_ context.Context, f RecordFilter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.match(f)), nil
}

func (m *MemoryRepository) List(_ context.Context, f RecordFilter, limit, offset int) ([]RecordView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	matched := m.match(f)
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return []RecordView{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}

	out := make([]RecordView, 0, len(matched))
	for _, r := range matched {
		s := m.students[r.StudentID]
		out = append(out, RecordView{Record: copyRecord(*r), StudentName: s.Name, StudentEmail: s.Email})
	}
	return out, nil
}

// match returns filtered records ordered by created_at DESC, id DESC. Caller holds mu.
func (m *MemoryRepository) match(f RecordFilter) []*Record {
	var out []*Record
	for _, r := range m.records {
		if !f.From.IsZero() && r.InTime.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !r.InTime.Before(f.To) {
			continue
		}
		if f.StaffName != "" && (r.StaffName == nil || *r.StaffName != f.StaffName) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func copyRecord(r Record) Record {
	if r.OutTime != nil {
		t := *r.OutTime
		r.OutTime = &t
	}
	if r.Topic != nil {
		s := *r.Topic
		r.Topic = &s
	}
	if r.StaffName != nil {
		s := *r.StaffName
		r.StaffName = &s
	}
	return r
}
