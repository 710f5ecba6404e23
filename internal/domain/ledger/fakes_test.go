package ledger

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ehr/clinicledger/internal/domain/audit"
	"github.com/ehr/clinicledger/internal/platform/apperr"
	"github.com/ehr/clinicledger/internal/platform/auth"
)

// memRepo is an in-memory Repository. Together with memTx it gives the service
// the same isolation a serializable database would.
type memRepo struct {
	mu            sync.Mutex
	events        map[uuid.UUID]*ClinicalEvent
	versions      map[uuid.UUID][]*EventVersion
	patients      map[uuid.UUID]bool
	professionals map[uuid.UUID]Professional
	failVersion   error
}

func newMemRepo() *memRepo {
	return &memRepo{
		events:        make(map[uuid.UUID]*ClinicalEvent),
		versions:      make(map[uuid.UUID][]*EventVersion),
		patients:      make(map[uuid.UUID]bool),
		professionals: make(map[uuid.UUID]Professional),
	}
}

type memSnapshot struct {
	events   map[uuid.UUID]ClinicalEvent
	versions map[uuid.UUID][]*EventVersion
}

func (m *memRepo) snapshot() memSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := memSnapshot{
		events:   make(map[uuid.UUID]ClinicalEvent, len(m.events)),
		versions: make(map[uuid.UUID][]*EventVersion, len(m.versions)),
	}
	for id, e := range m.events {
		s.events[id] = *e
	}
	for id, vs := range m.versions {
		s.versions[id] = append([]*EventVersion(nil), vs...)
	}
	return s
}

func (m *memRepo) restore(s memSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = make(map[uuid.UUID]*ClinicalEvent, len(s.events))
	for id, e := range s.events {
		e := e
		m.events[id] = &e
	}
	m.versions = s.versions
}

func (m *memRepo) InsertEvent(_ context.Context, e *ClinicalEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.patients[e.PatientID] {
		return apperr.NotFound("referenced record")
	}
	cp := *e
	m.events[e.ID] = &cp
	return nil
}

func (m *memRepo) InsertVersion(_ context.Context, v *EventVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failVersion != nil {
		return m.failVersion
	}
	for _, existing := range m.versions[v.EventID] {
		if existing.Version == v.Version {
			return apperr.Persistence(errDuplicateVersion, "insert event version")
		}
	}
	cp := *v
	m.versions[v.EventID] = append(m.versions[v.EventID], &cp)
	return nil
}

func (m *memRepo) LockHead(_ context.Context, id uuid.UUID) (*EventHead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return nil, apperr.NotFound("clinical event")
	}
	return &EventHead{PatientID: e.PatientID, EventType: e.EventType, CurrentVersion: e.CurrentVersion, Deleted: e.Deleted}, nil
}

func (m *memRepo) Repoint(_ context.Context, id uuid.UUID, version int, payload json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok || e.CurrentVersion != version-1 {
		return apperr.Persistence(errDuplicateVersion, "repoint clinical event")
	}
	e.CurrentVersion = version
	e.Payload = payload
	return nil
}

func (m *memRepo) MarkDeleted(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok || e.Deleted {
		return apperr.NotFound("clinical event")
	}
	e.Deleted = true
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id uuid.UUID) (*ClinicalEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return nil, apperr.NotFound("clinical event")
	}
	cp := *e
	return &cp, nil
}

func (m *memRepo) ListVersions(_ context.Context, id uuid.UUID) ([]*EventVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]*EventVersion(nil), m.versions[id]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (m *memRepo) Timeline(_ context.Context, q TimelineQuery) ([]*TimelineEntry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	types := make(map[string]bool, len(q.EventTypes))
	for _, t := range q.EventTypes {
		types[t] = true
	}
	var matched []*TimelineEntry
	for _, e := range m.events {
		if e.PatientID != q.PatientID || e.Deleted {
			continue
		}
		if q.From != nil && e.CreatedAt.Before(*q.From) {
			continue
		}
		if q.To != nil && !e.CreatedAt.Before(*q.To) {
			continue
		}
		if len(types) > 0 && !types[e.EventType] {
			continue
		}
		entry := &TimelineEntry{ClinicalEvent: *e, Professional: m.professionals[e.ProfessionalID]}
		entry.Professional.ID = e.ProfessionalID
		matched = append(matched, entry)
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID.String() > b.ID.String()
	})

	total := len(matched)
	if q.Offset >= total {
		return nil, total, nil
	}
	end := q.Offset + q.Limit
	if end > total {
		end = total
	}
	return matched[q.Offset:end], total, nil
}

func (m *memRepo) PatientExists(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.patients[id], nil
}

var errDuplicateVersion = apperr.InvalidState("version conflict")

type memTxKey struct{}

// memTx serialises transactions with one lock and restores the repo snapshot
// when fn fails.
type memTx struct {
	mu   sync.Mutex
	repo *memRepo
}

func (t *memTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := t.repo.snapshot()
	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		t.repo.restore(snap)
		return err
	}
	return nil
}

// memAudit records entries and can be told to fail.
type memAudit struct {
	mu      sync.Mutex
	entries []*audit.Entry
	err     error
}

func (m *memAudit) Append(_ context.Context, e *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memAudit) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Action
	}
	return out
}

func (m *memAudit) setErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

type fixture struct {
	svc      *Service
	repo     *memRepo
	audit    *memAudit
	patient  uuid.UUID
	doctor   uuid.UUID
	admin    auth.Actor
	clerk    auth.Actor
	stranger auth.Actor
}

func newFixture(t interface{ Fatalf(string, ...interface{}) }) *fixture {
	repo := newMemRepo()
	log := &memAudit{}
	payloads, err := NewPayloadValidator()
	if err != nil {
		t.Fatalf("payload validator: %v", err)
	}
	recorder := audit.NewRecorder(log, nil)
	guard := audit.NewGuard(auth.NewGate(nil), recorder, nil)

	f := &fixture{
		svc:     NewService(repo, &memTx{repo: repo}, guard, recorder, payloads, nil),
		repo:    repo,
		audit:   log,
		patient: uuid.New(),
		doctor:  uuid.New(),
	}
	repo.patients[f.patient] = true
	specialty := "Cardiology"
	repo.professionals[f.doctor] = Professional{DisplayName: "Dr. Okafor", Specialty: &specialty}

	f.admin = auth.Actor{ID: uuid.New(), Role: auth.RoleAdmin}
	f.clerk = auth.Actor{ID: uuid.New(), Role: auth.RoleProfessional, ProfessionalID: &f.doctor}
	f.stranger = auth.Actor{ID: uuid.New(), Role: auth.RoleOther}
	return f
}

func (f *fixture) note(text string) NewEvent {
	return NewEvent{
		PatientID:      f.patient,
		ProfessionalID: f.doctor,
		EventType:      "note",
		Payload:        json.RawMessage(`{"text":"` + text + `"}`),
	}
}
