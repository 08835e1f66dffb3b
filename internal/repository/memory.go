package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"student-registry/internal/model"
)

// MemoryStore keeps students and auth events in process memory. It backs
// STORE_DRIVER=memory and the test suites; every method takes the lock, so
// IncrementTokenVersion is atomic just like the SQL version.
type MemoryStore struct {
	mu       sync.Mutex
	students map[string]model.Student
	events   []model.AuthEvent
	sequence int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{students: map[string]model.Student{}}
}

func (m *MemoryStore) FindByControlNumber(_ context.Context, controlNumber string) (model.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.students[controlNumber]
	if !ok {
		return model.Student{}, model.ErrStudentNotFound
	}
	return s, nil
}

func (m *MemoryStore) FindByEmail(_ context.Context, email string) (model.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	email = strings.TrimSpace(email)
	for _, s := range m.students {
		if strings.EqualFold(s.Email, email) {
			return s, nil
		}
	}
	return model.Student{}, model.ErrStudentNotFound
}

func (m *MemoryStore) FindByEmailOrCURP(_ context.Context, email string, curp string) (model.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.matchLocked(email, curp); ok {
		return s, nil
	}
	return model.Student{}, model.ErrStudentNotFound
}

func (m *MemoryStore) ExistsByEmailOrCURP(_ context.Context, email string, curp string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.matchLocked(email, curp)
	return ok, nil
}

func (m *MemoryStore) matchLocked(email string, curp string) (model.Student, bool) {
	email = strings.TrimSpace(email)
	curp = strings.TrimSpace(curp)
	for _, s := range m.students {
		if email != "" && strings.EqualFold(s.Email, email) {
			return s, true
		}
		if curp != "" && strings.EqualFold(s.CURP, curp) {
			return s, true
		}
	}
	return model.Student{}, false
}

func (m *MemoryStore) NextControlSequence(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sequence++
	return m.sequence, nil
}

func (m *MemoryStore) Create(_ context.Context, s model.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.students[s.ControlNumber]; exists {
		return model.ErrStudentAlreadyExists
	}
	if _, exists := m.matchLocked(s.Email, s.CURP); exists {
		return model.ErrStudentAlreadyExists
	}
	if s.RFC != nil {
		for _, other := range m.students {
			if other.RFC != nil && *other.RFC == *s.RFC {
				return model.ErrStudentAlreadyExists
			}
		}
	}

	s.TokenVersion = 0
	s.UpdatedAt = s.CreatedAt
	m.students[s.ControlNumber] = s
	return nil
}

func (m *MemoryStore) update(controlNumber string, apply func(*model.Student)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.students[controlNumber]
	if !ok {
		return model.ErrStudentNotFound
	}
	apply(&s)
	s.UpdatedAt = time.Now().UTC()
	m.students[controlNumber] = s
	return nil
}

func (m *MemoryStore) Activate(_ context.Context, controlNumber string) error {
	return m.update(controlNumber, func(s *model.Student) { s.ActiveUser = true })
}

func (m *MemoryStore) SetResetToken(_ context.Context, controlNumber string, token string, expiresAt time.Time) error {
	return m.update(controlNumber, func(s *model.Student) {
		expires := expiresAt.UTC()
		s.ResetPasswordToken = token
		s.ResetTokenExpires = &expires
	})
}

// UpdatePassword consumes resetToken; see StudentRepository.UpdatePassword.
func (m *MemoryStore) UpdatePassword(_ context.Context, controlNumber string, passwordHash string, resetToken string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.students[controlNumber]
	if !ok {
		return model.ErrStudentNotFound
	}
	if resetToken == "" || s.ResetPasswordToken != resetToken ||
		s.ResetTokenExpires == nil || !s.ResetTokenExpires.After(now) {
		return model.ErrInvalidToken
	}

	s.PasswordHash = passwordHash
	s.ResetPasswordToken = ""
	s.ResetTokenExpires = nil
	s.UpdatedAt = now.UTC()
	m.students[controlNumber] = s
	return nil
}

func (m *MemoryStore) ReplacePasswordHash(_ context.Context, controlNumber string, passwordHash string) error {
	return m.update(controlNumber, func(s *model.Student) { s.PasswordHash = passwordHash })
}

func (m *MemoryStore) IncrementTokenVersion(_ context.Context, controlNumber string) (int, error) {
	var version int
	err := m.update(controlNumber, func(s *model.Student) {
		s.TokenVersion++
		version = s.TokenVersion
	})
	return version, err
}

func (m *MemoryStore) List(context.Context) ([]model.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	students := make([]model.Student, 0, len(m.students))
	for _, s := range m.students {
		students = append(students, s)
	}
	sort.Slice(students, func(i, j int) bool { return students[i].ControlNumber < students[j].ControlNumber })
	return students, nil
}

func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

func (m *MemoryStore) Log(_ context.Context, event model.AuthEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	m.events = append(m.events, event)
	return nil
}

func (m *MemoryStore) Query(_ context.Context, query model.AuthEventQuery) ([]model.AuthEvent, model.Meta, error) {
	query = normalizeEventQuery(query)

	m.mu.Lock()
	matched := make([]model.AuthEvent, 0, len(m.events))
	for _, e := range m.events {
		if query.ControlNumber != "" && e.ControlNumber != query.ControlNumber {
			continue
		}
		if query.Action != "" && !strings.EqualFold(e.Action, query.Action) {
			continue
		}
		matched = append(matched, e)
	}
	m.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool { return matched[i].OccurredAt.After(matched[j].OccurredAt) })

	total := len(matched)
	start := (query.Page - 1) * query.Limit
	if start > total {
		start = total
	}
	end := start + query.Limit
	if end > total {
		end = total
	}

	return matched[start:end], pageMeta(query, total), nil
}
