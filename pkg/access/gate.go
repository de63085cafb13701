package access

import (
	"context"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/prizmrun/prizm/pkg/observability"
)

// Reason is the machine-readable cause of a denial
type Reason string

const (
	ReasonNone                   Reason = ""
	ReasonUnauthenticated        Reason = "UNAUTHENTICATED"
	ReasonNotAMember             Reason = "NOT_A_MEMBER"
	ReasonInsufficientRole       Reason = "INSUFFICIENT_ROLE"
	ReasonInsufficientPermission Reason = "INSUFFICIENT_PERMISSION"
	ReasonMissingTarget          Reason = "MISSING_TARGET"
)

// RequirementKind tells role requirements from permission requirements
type RequirementKind string

const (
	KindRole       RequirementKind = "role"
	KindPermission RequirementKind = "permission"
)

// Requirement is what a protected operation declares up front. Role
// requirements are plain set membership; permission requirements are an
// ordinal threshold on the target channel. The two are not interchangeable:
// a MANAGER does not pass a requirement of {OWNER}.
type Requirement struct {
	Kind  RequirementKind
	Roles []Role
	Level Level
}

// RequireRoles accepts members holding any of the listed roles
func RequireRoles(roles ...Role) Requirement {
	return Requirement{Kind: KindRole, Roles: roles}
}

// RequirePermission accepts members holding at least level on the target channel
func RequirePermission(level Level) Requirement {
	return Requirement{Kind: KindPermission, Level: level}
}

func (r Requirement) String() string {
	if r.Kind == KindPermission {
		return fmt.Sprintf("permission>=%s", r.Level)
	}
	return fmt.Sprintf("role in %v", r.Roles)
}

func (r Requirement) acceptsRole(role Role) bool {
	for _, allowed := range r.Roles {
		if allowed == role {
			return true
		}
	}
	return false
}

// Identity is the authenticated caller
type Identity struct {
	UserID int64
}

// Target names the workspace and, for permission requirements, the channel
// an operation acts on
type Target struct {
	WorkspaceID *int64
	ChannelID   *int64
}

// ParseTarget builds a target from raw path parameters. Empty values stay
// unset; malformed values are reported as ErrMissingTarget.
func ParseTarget(workspaceID, channelID string) (Target, error) {
	var t Target
	if workspaceID != "" {
		id, err := strconv.ParseInt(workspaceID, 10, 64)
		if err != nil {
			return Target{}, fmt.Errorf("%w: workspace id %q", ErrMissingTarget, workspaceID)
		}
		t.WorkspaceID = &id
	}
	if channelID != "" {
		id, err := strconv.ParseInt(channelID, 10, 64)
		if err != nil {
			return Target{}, fmt.Errorf("%w: channel id %q", ErrMissingTarget, channelID)
		}
		t.ChannelID = &id
	}
	return t, nil
}

// Decision is the result of an authorization check
type Decision struct {
	Allowed bool
	Reason  Reason
	Member  *WorkspaceUser
	// Actual is only meaningful for permission requirements
	Actual Level
}

func allow(member *WorkspaceUser, actual Level) Decision {
	return Decision{Allowed: true, Member: member, Actual: actual}
}

func deny(reason Reason, member *WorkspaceUser, actual Level) Decision {
	return Decision{Reason: reason, Member: member, Actual: actual}
}

// Gate decides whether a caller may perform an operation. It reads state and
// fills the cache on a miss but never writes domain data, so a check is safe
// to retry.
type Gate struct {
	resolver *Resolver
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewGate creates a gate deciding through resolver
func NewGate(resolver *Resolver, logger *observability.Logger, metrics *observability.Metrics) *Gate {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Gate{resolver: resolver, logger: logger, metrics: metrics}
}

// Resolver returns the resolver the gate decides through
func (g *Gate) Resolver() *Resolver {
	return g.resolver
}

// Authorize checks req for identity on target. Denials are returned as a
// Decision with a nil error. The error is non-nil only for ErrMissingTarget
// and source failures; neither must be reported as a denial.
func (g *Gate) Authorize(ctx context.Context, identity *Identity, target Target, req Requirement) (Decision, error) {
	ctx, span := tracer.Start(ctx, "Gate.Authorize",
		trace.WithAttributes(attribute.String("requirement", req.String())),
	)
	defer span.End()

	decision, err := g.authorize(ctx, identity, target, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "authorization failed")
		g.metrics.RecordDecision(string(req.Kind), "error")
		return Decision{}, err
	}

	outcome := "allow"
	if !decision.Allowed {
		outcome = string(decision.Reason)
	}
	span.SetAttributes(attribute.String("outcome", outcome))
	g.metrics.RecordDecision(string(req.Kind), outcome)

	log := g.logger.WithField("requirement", req.String()).WithField("outcome", outcome)
	if target.WorkspaceID != nil {
		log = log.WithField("workspace_id", *target.WorkspaceID)
	}
	if identity != nil {
		log = log.WithField("user_id", identity.UserID)
	}
	log.Debug("authorization decided")
	return decision, nil
}

func (g *Gate) authorize(ctx context.Context, identity *Identity, target Target, req Requirement) (Decision, error) {
	if identity == nil {
		return deny(ReasonUnauthenticated, nil, LevelNone), nil
	}
	if target.WorkspaceID == nil {
		return Decision{}, fmt.Errorf("%w: workspace id", ErrMissingTarget)
	}
	if req.Kind == KindPermission && target.ChannelID == nil {
		return Decision{}, fmt.Errorf("%w: channel id", ErrMissingTarget)
	}

	member, err := g.resolver.Member(ctx, *target.WorkspaceID, identity.UserID)
	if err != nil {
		return Decision{}, err
	}
	if member == nil {
		return deny(ReasonNotAMember, nil, LevelNone), nil
	}

	switch req.Kind {
	case KindRole:
		if req.acceptsRole(member.Role) {
			return allow(member, LevelNone), nil
		}
		return deny(ReasonInsufficientRole, member, LevelNone), nil

	case KindPermission:
		perms, err := g.resolver.PermissionsFor(ctx, member)
		if err != nil {
			return Decision{}, err
		}
		actual := perms.Get(*target.ChannelID)
		if Meets(actual, req.Level) {
			return allow(member, actual), nil
		}
		return deny(ReasonInsufficientPermission, member, actual), nil
	}

	return Decision{}, fmt.Errorf("unknown requirement kind %q", req.Kind)
}
