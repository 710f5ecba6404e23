package auth

import "github.com/google/uuid"

// Capability is an operation class checked by the gate.
type Capability int

const (
	ViewTimeline Capability = iota
	WriteEvent
	EditDocument
)

func (c Capability) String() string {
	switch c {
	case ViewTimeline:
		return "view-timeline"
	case WriteEvent:
		return "write-event"
	case EditDocument:
		return "edit-document"
	default:
		return "unknown"
	}
}

// Decision is the outcome of a gate evaluation. Reason is recorded in the
// audit trail only.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow(reason string) Decision { return Decision{Allowed: true, Reason: reason} }
func deny(reason string) Decision  { return Decision{Allowed: false, Reason: reason} }

// Policy decides whether actor may exercise capability on the record of
// patientID. patientID is uuid.Nil when the target is not linked to a patient.
// Implementations must be pure.
type Policy interface {
	Decide(actor Actor, capability Capability, patientID uuid.UUID) Decision
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(actor Actor, capability Capability, patientID uuid.UUID) Decision

func (f PolicyFunc) Decide(actor Actor, capability Capability, patientID uuid.UUID) Decision {
	return f(actor, capability, patientID)
}

// MVPPolicy lets administrators and professionals read and write any
// patient's record and denies everyone else.
//
// Professionals are not yet checked against an encounter or an explicit share
// with the patient. Replace this policy, not the callers, when that lands.
type MVPPolicy struct{}

func (MVPPolicy) Decide(actor Actor, capability Capability, _ uuid.UUID) Decision {
	if !actor.Authenticated() {
		return deny("no authenticated actor")
	}
	switch actor.Role {
	case RoleAdmin:
		return allow("admin role")
	case RoleProfessional:
		return allow("professional role, unrestricted " + capability.String())
	default:
		return deny("role " + actor.Role.String() + " may not " + capability.String())
	}
}

// RequireModule denies non-admin actors that lack the named module grant and
// defers everything else to next. An empty module disables the check.
func RequireModule(module string, next Policy) Policy {
	if module == "" {
		return next
	}
	return PolicyFunc(func(actor Actor, capability Capability, patientID uuid.UUID) Decision {
		if actor.Authenticated() && actor.Role != RoleAdmin && !actor.HasModule(module) {
			return deny("missing module grant " + module)
		}
		return next.Decide(actor, capability, patientID)
	})
}

// Gate evaluates the configured policy. It has no side effects; callers audit
// both outcomes.
type Gate struct {
	policy Policy
}

// NewGate builds a gate around policy, falling back to MVPPolicy when nil.
func NewGate(policy Policy) *Gate {
	if policy == nil {
		policy = MVPPolicy{}
	}
	return &Gate{policy: policy}
}

func (g *Gate) Decide(actor Actor, capability Capability, patientID uuid.UUID) Decision {
	switch capability {
	case ViewTimeline, WriteEvent, EditDocument:
	default:
		return deny("unknown capability")
	}
	return g.policy.Decide(actor, capability, patientID)
}
