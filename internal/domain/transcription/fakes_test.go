package transcription

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ehr/clinicledger/internal/domain/audit"
	"github.com/ehr/clinicledger/internal/domain/ledger"
	"github.com/ehr/clinicledger/internal/platform/apperr"
	"github.com/ehr/clinicledger/internal/platform/auth"
)

type memRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]Job
}

func newMemRepo() *memRepo { return &memRepo{jobs: make(map[uuid.UUID]Job)} }

func (m *memRepo) Insert(_ context.Context, j *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = *j
	return nil
}

func (m *memRepo) Get(_ context.Context, id uuid.UUID) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, apperr.NotFound("transcription job")
	}
	return &j, nil
}

func (m *memRepo) update(id uuid.UUID, fn func(*Job)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return apperr.NotFound("transcription job")
	}
	fn(&j)
	m.jobs[id] = j
	return nil
}

func (m *memRepo) MarkRunning(_ context.Context, id uuid.UUID) error {
	return m.update(id, func(j *Job) { j.Status = StatusRunning })
}

func (m *memRepo) Complete(_ context.Context, id uuid.UUID, text string) error {
	return m.update(id, func(j *Job) { j.Status, j.Text, j.Error = StatusCompleted, &text, nil })
}

func (m *memRepo) Fail(_ context.Context, id uuid.UUID, reason string) error {
	return m.update(id, func(j *Job) { j.Status, j.Error = StatusFailed, &reason })
}

func (m *memRepo) LinkEvent(_ context.Context, id, eventID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return apperr.NotFound("transcription job")
	}
	if j.EventID != nil {
		return apperr.InvalidState("transcript is already attached")
	}
	j.EventID = &eventID
	m.jobs[id] = j
	return nil
}

func (m *memRepo) snapshot() map[uuid.UUID]Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uuid.UUID]Job, len(m.jobs))
	for k, v := range m.jobs {
		out[k] = v
	}
	return out
}

func (m *memRepo) restore(s map[uuid.UUID]Job) {
	m.mu.Lock()
	m.jobs = s
	m.mu.Unlock()
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
}

func (m *memAudit) Append(_ context.Context, e *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memAudit) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Action)
	}
	return out
}

// fakeEnqueuer records enqueued jobs and checks they were scheduled inside a
// transaction.
type fakeEnqueuer struct {
	mu       sync.Mutex
	enqueued []uuid.UUID
	outside  int
	err      error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ctx.Value(memTxKey{}) == nil {
		f.outside++
	}
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, id)
	return nil
}

type fakeAppender struct {
	mu     sync.Mutex
	events []ledger.NewEvent
	err    error
}

func (f *fakeAppender) AppendEvent(_ context.Context, _ auth.Actor, in ledger.NewEvent) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return uuid.Nil, f.err
	}
	f.events = append(f.events, in)
	return uuid.New(), nil
}

type fixedTranscriber struct {
	text string
	err  error
}

func (f fixedTranscriber) Transcribe(context.Context, string) (string, error) { return f.text, f.err }
