package authz

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/workmesh/workmesh/internal/eventlog"
	"github.com/workmesh/workmesh/internal/observability"
	"github.com/workmesh/workmesh/internal/shared"
)

// Registry maintains per-subject role memberships and per-operation role
// requirements. It is the single authorization authority for the platform:
// every privileged operation in every component funnels through MayInvoke.
//
// Role administration is self-hosting. Each mutator is gated by a MayInvoke
// check against the registry's own operation, so a subject can only grant or
// revoke if its role set intersects the capability configured for that
// administrative operation, or it is root.
type Registry struct {
	mu      sync.RWMutex
	store   Store
	events  eventlog.Recorder
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewRegistry constructs a Registry. metrics may be nil.
func NewRegistry(store Store, events eventlog.Recorder, logger *slog.Logger, metrics *observability.Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{store: store, events: events, logger: logger, metrics: metrics}
}

// Bootstrap marks the subject as root without an authorization check. It is
// deploy-time wiring only, called before the registry serves traffic; all
// later root changes go through SetRoot.
func (r *Registry) Bootstrap(ctx context.Context, subject int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.SetRoot(ctx, subject, true); err != nil {
		return fmt.Errorf("authz: bootstrap root: %w", err)
	}
	return r.record(ctx, eventlog.Event{
		Topic:    eventlog.TopicRootSet,
		Entity:   "subject",
		EntityID: strconv.FormatInt(subject, 10),
		Actor:    subject,
		Meta:     map[string]any{"root": true},
	})
}

// MayInvoke reports whether subject may invoke operation on resource.
// Evaluation order: root, public capability, role intersection. Store
// failures deny and are logged; the check never raises a fatal error.
func (r *Registry) MayInvoke(ctx context.Context, subject int64, resource, operation string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	allowed := r.allowed(ctx, subject, Capability{Resource: resource, Operation: operation})
	if !allowed {
		r.metrics.IncDenial(resource, operation)
	}
	return allowed
}

// RolesOf returns the subject's role membership set.
func (r *Registry) RolesOf(ctx context.Context, subject int64) (RoleSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.Roles(ctx, subject)
}

// RolesAllowed returns the set of roles authorized for the capability.
func (r *Registry) RolesAllowed(ctx context.Context, resource, operation string) (RoleSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.CapabilityRoles(ctx, Capability{Resource: resource, Operation: operation})
}

// IsRoot reports whether the subject bypasses all capability checks.
func (r *Registry) IsRoot(ctx context.Context, subject int64) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.IsRoot(ctx, subject)
}

// IsPublic reports whether the capability is open to every subject.
func (r *Registry) IsPublic(ctx context.Context, resource, operation string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.IsPublic(ctx, Capability{Resource: resource, Operation: operation})
}

// GrantRole adds role to subject's membership set. Adding a held role is a
// no-op observable as unchanged state.
func (r *Registry) GrantRole(ctx context.Context, actor, subject int64, role Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.allowed(ctx, actor, Capability{Resource: ResourceAuthz, Operation: OpGrantRole}) {
		r.metrics.IncDenial(ResourceAuthz, OpGrantRole)
		return shared.ErrUnauthorized
	}
	prev, err := r.store.Roles(ctx, subject)
	if err != nil {
		return fmt.Errorf("authz: load roles: %w", err)
	}
	next := prev
	next.Add(role)
	if err := r.store.SetRoles(ctx, subject, next); err != nil {
		return fmt.Errorf("authz: store roles: %w", err)
	}
	if err := r.record(ctx, eventlog.Event{
		Topic:    eventlog.TopicRoleAdded,
		Entity:   "subject",
		EntityID: strconv.FormatInt(subject, 10),
		Actor:    actor,
		Meta:     map[string]any{"role": uint8(role)},
	}); err != nil {
		_ = r.store.SetRoles(ctx, subject, prev)
		return err
	}
	return nil
}

// RevokeRole clears the role bit, the exact inverse of GrantRole.
func (r *Registry) RevokeRole(ctx context.Context, actor, subject int64, role Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.allowed(ctx, actor, Capability{Resource: ResourceAuthz, Operation: OpRevokeRole}) {
		r.metrics.IncDenial(ResourceAuthz, OpRevokeRole)
		return shared.ErrUnauthorized
	}
	prev, err := r.store.Roles(ctx, subject)
	if err != nil {
		return fmt.Errorf("authz: load roles: %w", err)
	}
	next := prev
	next.Remove(role)
	if err := r.store.SetRoles(ctx, subject, next); err != nil {
		return fmt.Errorf("authz: store roles: %w", err)
	}
	if err := r.record(ctx, eventlog.Event{
		Topic:    eventlog.TopicRoleRemoved,
		Entity:   "subject",
		EntityID: strconv.FormatInt(subject, 10),
		Actor:    actor,
		Meta:     map[string]any{"role": uint8(role)},
	}); err != nil {
		_ = r.store.SetRoles(ctx, subject, prev)
		return err
	}
	return nil
}

// GrantCapability authorizes role for the (resource, operation) pair.
func (r *Registry) GrantCapability(ctx context.Context, actor int64, resource, operation string, role Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.allowed(ctx, actor, Capability{Resource: ResourceAuthz, Operation: OpGrantCapability}) {
		r.metrics.IncDenial(ResourceAuthz, OpGrantCapability)
		return shared.ErrUnauthorized
	}
	key := Capability{Resource: resource, Operation: operation}
	prev, err := r.store.CapabilityRoles(ctx, key)
	if err != nil {
		return fmt.Errorf("authz: load capability: %w", err)
	}
	next := prev
	next.Add(role)
	if err := r.store.SetCapabilityRoles(ctx, key, next); err != nil {
		return fmt.Errorf("authz: store capability: %w", err)
	}
	if err := r.record(ctx, eventlog.Event{
		Topic:    eventlog.TopicCapabilityAdded,
		Entity:   "capability",
		EntityID: resource + "/" + operation,
		Actor:    actor,
		Meta:     map[string]any{"role": uint8(role)},
	}); err != nil {
		_ = r.store.SetCapabilityRoles(ctx, key, prev)
		return err
	}
	return nil
}

// RevokeCapability removes role from the pair's authorized set.
func (r *Registry) RevokeCapability(ctx context.Context, actor int64, resource, operation string, role Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.allowed(ctx, actor, Capability{Resource: ResourceAuthz, Operation: OpRevokeCapability}) {
		r.metrics.IncDenial(ResourceAuthz, OpRevokeCapability)
		return shared.ErrUnauthorized
	}
	key := Capability{Resource: resource, Operation: operation}
	prev, err := r.store.CapabilityRoles(ctx, key)
	if err != nil {
		return fmt.Errorf("authz: load capability: %w", err)
	}
	next := prev
	next.Remove(role)
	if err := r.store.SetCapabilityRoles(ctx, key, next); err != nil {
		return fmt.Errorf("authz: store capability: %w", err)
	}
	if err := r.record(ctx, eventlog.Event{
		Topic:    eventlog.TopicCapabilityRemoved,
		Entity:   "capability",
		EntityID: resource + "/" + operation,
		Actor:    actor,
		Meta:     map[string]any{"role": uint8(role)},
	}); err != nil {
		_ = r.store.SetCapabilityRoles(ctx, key, prev)
		return err
	}
	return nil
}

// SetRoot marks or unmarks the subject as exempt from all capability checks.
func (r *Registry) SetRoot(ctx context.Context, actor, subject int64, isRoot bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.allowed(ctx, actor, Capability{Resource: ResourceAuthz, Operation: OpSetRoot}) {
		r.metrics.IncDenial(ResourceAuthz, OpSetRoot)
		return shared.ErrUnauthorized
	}
	prev, err := r.store.IsRoot(ctx, subject)
	if err != nil {
		return fmt.Errorf("authz: load root flag: %w", err)
	}
	if err := r.store.SetRoot(ctx, subject, isRoot); err != nil {
		return fmt.Errorf("authz: store root flag: %w", err)
	}
	if err := r.record(ctx, eventlog.Event{
		Topic:    eventlog.TopicRootSet,
		Entity:   "subject",
		EntityID: strconv.FormatInt(subject, 10),
		Actor:    actor,
		Meta:     map[string]any{"root": isRoot},
	}); err != nil {
		_ = r.store.SetRoot(ctx, subject, prev)
		return err
	}
	return nil
}

// SetPublic marks or unmarks the (resource, operation) pair as open to every
// subject regardless of role membership.
func (r *Registry) SetPublic(ctx context.Context, actor int64, resource, operation string, isPublic bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.allowed(ctx, actor, Capability{Resource: ResourceAuthz, Operation: OpSetPublic}) {
		r.metrics.IncDenial(ResourceAuthz, OpSetPublic)
		return shared.ErrUnauthorized
	}
	key := Capability{Resource: resource, Operation: operation}
	prev, err := r.store.IsPublic(ctx, key)
	if err != nil {
		return fmt.Errorf("authz: load public flag: %w", err)
	}
	if err := r.store.SetPublic(ctx, key, isPublic); err != nil {
		return fmt.Errorf("authz: store public flag: %w", err)
	}
	if err := r.record(ctx, eventlog.Event{
		Topic:    eventlog.TopicPublicSet,
		Entity:   "capability",
		EntityID: resource + "/" + operation,
		Actor:    actor,
		Meta:     map[string]any{"public": isPublic},
	}); err != nil {
		_ = r.store.SetPublic(ctx, key, prev)
		return err
	}
	return nil
}

// allowed evaluates the capability check without taking the registry lock;
// callers must hold it. Store failures deny.
func (r *Registry) allowed(ctx context.Context, subject int64, key Capability) bool {
	root, err := r.store.IsRoot(ctx, subject)
	if err != nil {
		r.logger.Error("authz root lookup", slog.Int64("subject", subject), slog.Any("error", err))
		return false
	}
	if root {
		return true
	}
	public, err := r.store.IsPublic(ctx, key)
	if err != nil {
		r.logger.Error("authz public lookup", slog.String("resource", key.Resource), slog.Any("error", err))
		return false
	}
	if public {
		return true
	}
	held, err := r.store.Roles(ctx, subject)
	if err != nil {
		r.logger.Error("authz roles lookup", slog.Int64("subject", subject), slog.Any("error", err))
		return false
	}
	required, err := r.store.CapabilityRoles(ctx, key)
	if err != nil {
		r.logger.Error("authz capability lookup", slog.String("resource", key.Resource), slog.Any("error", err))
		return false
	}
	return held.Intersects(required)
}

func (r *Registry) record(ctx context.Context, ev eventlog.Event) error {
	if r.events == nil {
		return nil
	}
	return r.events.Record(ctx, ev)
}
