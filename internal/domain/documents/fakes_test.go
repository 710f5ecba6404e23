package documents

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ehr/clinicledger/internal/domain/audit"
	"github.com/ehr/clinicledger/internal/platform/apperr"
)

type memRepo struct {
	mu         sync.Mutex
	docs       map[uuid.UUID]Document
	signatures map[uuid.UUID]Signature
	events     map[uuid.UUID]uuid.UUID
	failSig    error
}

func newMemRepo() *memRepo {
	return &memRepo{
		docs:       make(map[uuid.UUID]Document),
		signatures: make(map[uuid.UUID]Signature),
		events:     make(map[uuid.UUID]uuid.UUID),
	}
}

func (m *memRepo) Insert(_ context.Context, d *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[d.ID] = *d
	return nil
}

func (m *memRepo) LockForSign(_ context.Context, id uuid.UUID) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, apperr.NotFound("document")
	}
	return &d, nil
}

func (m *memRepo) MarkSigned(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok || d.Status != StatusDraft {
		return apperr.InvalidState("document is already signed")
	}
	d.Status = StatusSigned
	m.docs[id] = d
	return nil
}

func (m *memRepo) InsertSignature(_ context.Context, s *Signature) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSig != nil {
		return m.failSig
	}
	if _, ok := m.signatures[s.DocumentID]; ok {
		return apperr.InvalidState("document is already signed")
	}
	m.signatures[s.DocumentID] = *s
	return nil
}

func (m *memRepo) Get(_ context.Context, id uuid.UUID) (*View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, apperr.NotFound("document")
	}
	v := &View{Document: d}
	if d.EventID != nil {
		if p, ok := m.events[*d.EventID]; ok {
			v.PatientID = &p
		}
	}
	if s, ok := m.signatures[id]; ok {
		v.Signature = &s
	}
	return v, nil
}

func (m *memRepo) EventPatient(_ context.Context, eventID uuid.UUID) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.events[eventID]
	if !ok {
		return uuid.Nil, apperr.NotFound("clinical event")
	}
	return p, nil
}

type memState struct {
	docs       map[uuid.UUID]Document
	signatures map[uuid.UUID]Signature
}

func (m *memRepo) snapshot() memState {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := memState{docs: make(map[uuid.UUID]Document), signatures: make(map[uuid.UUID]Signature)}
	for k, v := range m.docs {
		s.docs[k] = v
	}
	for k, v := range m.signatures {
		s.signatures[k] = v
	}
	return s
}

func (m *memRepo) restore(s memState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs, m.signatures = s.docs, s.signatures
}

type memTxKey struct{}

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

func (m *memAudit) count(action string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.Action == action {
			n++
		}
	}
	return n
}
