package ledger

import (
	"context"
	"encoding/json"

	"github.com/Masterminds/squirrel"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ehr/clinicledger/internal/platform/apperr"
	"github.com/ehr/clinicledger/internal/platform/db"
)

type repoPG struct {
	db db.DB
	tx *db.TxManager
}

func NewRepoPG(handle db.DB) Repository { return &repoPG{db: handle, tx: db.NewTxManager(handle)} }

func (r *repoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.db) }

const eventCols = `id, patient_id, professional_id, encounter_id, event_type, payload, current_version, deleted, created_at`

func scanEvent(row pgx.Row) (*ClinicalEvent, error) {
	var e ClinicalEvent
	var payload []byte
	err := row.Scan(&e.ID, &e.PatientID, &e.ProfessionalID, &e.EncounterID, &e.EventType,
		&payload, &e.CurrentVersion, &e.Deleted, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.Payload = payload
	return &e, nil
}

func (r *repoPG) InsertEvent(ctx context.Context, e *ClinicalEvent) error {
	_, err := r.conn(ctx).Exec(ctx, `INSERT INTO clinical_event (`+eventCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.PatientID, e.ProfessionalID, e.EncounterID, e.EventType,
		[]byte(e.Payload), e.CurrentVersion, e.Deleted, e.CreatedAt)
	return db.Classify(err, "insert clinical event")
}

func (r *repoPG) InsertVersion(ctx context.Context, v *EventVersion) error {
	_, err := r.conn(ctx).Exec(ctx, `INSERT INTO event_version
		(event_id, version, payload, professional_id, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		v.EventID, v.Version, []byte(v.Payload), v.ProfessionalID, v.Reason, v.CreatedAt)
	if db.IsUniqueViolation(err, "event_version_pkey") {
		return apperr.Persistence(err, "version already exists")
	}
	return db.Classify(err, "insert event version")
}

func (r *repoPG) LockHead(ctx context.Context, id uuid.UUID) (*EventHead, error) {
	if db.TxFromContext(ctx) == nil {
		return nil, errors.AssertionFailedf("LockHead called outside a transaction")
	}
	var h EventHead
	err := r.conn(ctx).QueryRow(ctx, `SELECT patient_id, event_type, current_version, deleted
		FROM clinical_event WHERE id = $1 FOR UPDATE`, id).
		Scan(&h.PatientID, &h.EventType, &h.CurrentVersion, &h.Deleted)
	if err != nil {
		return nil, db.Classify(err, "clinical event")
	}
	return &h, nil
}

func (r *repoPG) Repoint(ctx context.Context, id uuid.UUID, version int, payload json.RawMessage) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE clinical_event
		SET current_version = $2, payload = $3
		WHERE id = $1 AND current_version = $2 - 1`,
		id, version, []byte(payload))
	if err != nil {
		return db.Classify(err, "repoint clinical event")
	}
	if tag.RowsAffected() != 1 {
		return apperr.Persistence(errors.Newf("event %s is not at version %d", id, version-1), "repoint clinical event")
	}
	return nil
}

func (r *repoPG) MarkDeleted(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE clinical_event SET deleted = TRUE WHERE id = $1 AND NOT deleted`, id)
	if err != nil {
		return db.Classify(err, "delete clinical event")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("clinical event")
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*ClinicalEvent, error) {
	e, err := scanEvent(r.conn(ctx).QueryRow(ctx,
		`SELECT `+eventCols+` FROM clinical_event WHERE id = $1`, id))
	if err != nil {
		return nil, db.Classify(err, "clinical event")
	}
	return e, nil
}

func (r *repoPG) ListVersions(ctx context.Context, id uuid.UUID) ([]*EventVersion, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT event_id, version, payload, professional_id, reason, created_at
		FROM event_version WHERE event_id = $1 ORDER BY version`, id)
	if err != nil {
		return nil, db.Classify(err, "list event versions")
	}
	defer rows.Close()

	var out []*EventVersion
	for rows.Next() {
		var v EventVersion
		var payload []byte
		if err := rows.Scan(&v.EventID, &v.Version, &payload, &v.ProfessionalID, &v.Reason, &v.CreatedAt); err != nil {
			return nil, db.Classify(err, "scan event version")
		}
		v.Payload = payload
		out = append(out, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err, "list event versions")
	}
	return out, nil
}

var timelineCols = []string{
	"e.id", "e.patient_id", "e.professional_id", "e.encounter_id", "e.event_type",
	"e.payload", "e.current_version", "e.created_at",
	"COALESCE(p.display_name, '')", "p.specialty",
}

func timelineFilter(q TimelineQuery) squirrel.And {
	where := squirrel.And{
		squirrel.Eq{"e.patient_id": q.PatientID},
		squirrel.Eq{"e.deleted": false},
	}
	if q.From != nil {
		where = append(where, squirrel.GtOrEq{"e.created_at": *q.From})
	}
	if q.To != nil {
		where = append(where, squirrel.Lt{"e.created_at": *q.To})
	}
	if len(q.EventTypes) > 0 {
		where = append(where, squirrel.Eq{"e.event_type": q.EventTypes})
	}
	return where
}

// Timeline returns one page of current-version events, newest first. Events
// created in the same instant fall back to id order; ids are UUIDv7 so this is
// insertion order. The count and the page are read from one snapshot so total
// always describes the rows paged over.
func (r *repoPG) Timeline(ctx context.Context, q TimelineQuery) ([]*TimelineEntry, int, error) {
	var (
		out   []*TimelineEntry
		total int
	)
	err := r.tx.InSnapshot(ctx, func(ctx context.Context) error {
		var err error
		if total, err = r.timelineCount(ctx, q); err != nil {
			return err
		}
		out, err = r.timelinePage(ctx, q)
		return err
	})
	if err != nil {
		return nil, 0, apperr.OrPersistence(err, "read timeline")
	}
	return out, total, nil
}

func (r *repoPG) timelineCount(ctx context.Context, q TimelineQuery) (int, error) {
	sql, args, err := db.NewQueryBuilder().
		Select("COUNT(*)").
		From("clinical_event e").
		Where(timelineFilter(q)).
		ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "build timeline count")
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, sql, args...).Scan(&total); err != nil {
		return 0, db.Classify(err, "count timeline")
	}
	return total, nil
}

func (r *repoPG) timelinePage(ctx context.Context, q TimelineQuery) ([]*TimelineEntry, error) {
	sql, args, err := db.NewQueryBuilder().
		Select(timelineCols...).
		From("clinical_event e").
		LeftJoin("professional p ON p.id = e.professional_id").
		Where(timelineFilter(q)).
		OrderBy("e.created_at DESC", "e.id DESC").
		Limit(uint64(q.Limit)).
		Offset(uint64(q.Offset)).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build timeline query")
	}

	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, db.Classify(err, "query timeline")
	}
	defer rows.Close()

	var out []*TimelineEntry
	for rows.Next() {
		var t TimelineEntry
		var payload []byte
		if err := rows.Scan(&t.ID, &t.PatientID, &t.ProfessionalID, &t.EncounterID, &t.EventType,
			&payload, &t.CurrentVersion, &t.CreatedAt,
			&t.Professional.DisplayName, &t.Professional.Specialty); err != nil {
			return nil, db.Classify(err, "scan timeline entry")
		}
		t.Payload = payload
		t.Professional.ID = t.ProfessionalID
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err, "query timeline")
	}
	return out, nil
}

func (r *repoPG) PatientExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM patient WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, db.Classify(err, "patient")
	}
	return exists, nil
}
