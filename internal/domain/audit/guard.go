package audit

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/ehr/clinicledger/internal/platform/apperr"
	"github.com/ehr/clinicledger/internal/platform/auth"
	"github.com/ehr/clinicledger/internal/platform/db"
	"github.com/ehr/clinicledger/internal/platform/telemetry"
)

// Guard runs the access gate at a call site and audits refusals. Granted
// operations write their own audit entry with the mutation.
type Guard struct {
	gate     *auth.Gate
	recorder *Recorder
	metrics  *telemetry.Metrics
}

func NewGuard(gate *auth.Gate, recorder *Recorder, metrics *telemetry.Metrics) *Guard {
	return &Guard{gate: gate, recorder: recorder, metrics: metrics}
}

// Authorize returns nil when actor may exercise capability on res.PatientID.
// Otherwise it appends exactly one "<action>_denied" entry, outside any
// transaction carried by ctx, and returns an AccessDenied error. If that entry
// cannot be written the denial still stands and the storage error is attached
// as a secondary error.
func (g *Guard) Authorize(ctx context.Context, actor auth.Actor, capability auth.Capability, action string, res Resource) error {
	d := g.gate.Decide(actor, capability, res.PatientID)
	g.metrics.ObserveDecision(capability.String(), d.Allowed)
	if d.Allowed {
		return nil
	}

	return g.Deny(ctx, actor, capability, action, res, d.Reason)
}

// Deny audits and returns an AccessDenied for a refusal decided outside the
// gate, such as a rule that depends on the request body. Like Authorize it
// writes one "<action>_denied" entry outside any transaction carried by ctx.
func (g *Guard) Deny(ctx context.Context, actor auth.Actor, capability auth.Capability, action string, res Resource, reason string) error {
	zerolog.Ctx(ctx).Warn().
		Str("actor_id", actor.ID.String()).
		Str("role", actor.Role.String()).
		Str("capability", capability.String()).
		Str("resource_type", res.Type).
		Str("reason", reason).
		Msg("access denied")

	entry := NewEntry(actor, DeniedAction(action), res).
		With("capability", capability.String()).
		With("reason", reason)

	denied := apperr.AccessDenied(reason)
	if err := g.recorder.Record(db.WithoutTx(ctx), entry); err != nil {
		return errors.WithSecondaryError(denied, err)
	}
	return denied
}
