package permission

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/tenantauth/pkg/auth"
	"github.com/platinummonkey/tenantauth/pkg/permcache"
)

const (
	// DefaultLoadTimeout bounds a single directory load
	DefaultLoadTimeout = 5 * time.Second

	tracerName = "github.com/platinummonkey/tenantauth/pkg/permission"
)

// UserDirectory loads authorization state for users. LoadContext returns
// ErrContextNotFound when the user is not a member of the tenant.
type UserDirectory interface {
	LoadContext(ctx context.Context, userID, tenantID string) (*PermissionContext, error)
	LoadAccessibleStores(ctx context.Context, userID, tenantID string) ([]string, error)
}

// DecisionRecorder receives every authorization decision
type DecisionRecorder interface {
	RecordDecision(check string, allowed bool, reason string)
}

// Config holds permission service configuration
type Config struct {
	Cache       permcache.Config
	LoadTimeout time.Duration // Upper bound on a directory load (default: 5s)
}

// Service resolves authorization decisions for users within tenants.
//
// Resolved contexts are cached per tenant and user. Every upstream mutation of a
// user's role, custom permissions, or store assignment must be followed by the
// matching Invalidate call; the cache has no other way to learn about it.
type Service struct {
	directory UserDirectory
	cache     *permcache.Cache[*PermissionContext]
	loads     singleflight.Group
	config    Config
	logger    *logrus.Logger
	tracer    trace.Tracer
	recorder  DecisionRecorder
}

// NewService creates a permission service backed by directory
func NewService(directory UserDirectory, config Config, logger *logrus.Logger) (*Service, error) {
	if directory == nil {
		return nil, ErrNilDirectory
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	if config.LoadTimeout <= 0 {
		config.LoadTimeout = DefaultLoadTimeout
	}

	cache, err := permcache.New[*PermissionContext](config.Cache, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create permission cache: %w", err)
	}

	return &Service{
		directory: directory,
		cache:     cache,
		config:    config,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
	}, nil
}

// SetRecorder installs a recorder notified of every decision
func (s *Service) SetRecorder(r DecisionRecorder) {
	s.recorder = r
}

// CheckPermission decides whether userID may perform action on module within
// tenantID, optionally scoped to storeID.
//
// Denials are reported through the Result. A non-nil error is returned only for
// resource failures such as a directory timeout; the Result is a denial then too.
func (s *Service) CheckPermission(ctx context.Context, userID, tenantID string, module Module, action Action, storeID string) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "permission.CheckPermission", trace.WithAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("permission.module", string(module)),
		attribute.String("permission.action", string(action)),
	))
	defer span.End()

	result, err := s.checkPermission(ctx, userID, tenantID, module, action, storeID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(
		attribute.Bool("permission.allowed", result.Allowed),
		attribute.String("permission.reason", string(result.Reason)),
	)

	s.record("permission", result)
	if !result.Allowed {
		s.logger.WithFields(logrus.Fields{
			"tenant_id": tenantID,
			"user_id":   userID,
			"module":    module,
			"action":    action,
			"store_id":  storeID,
			"reason":    result.Reason,
		}).Debug("permission denied")
	}
	return result, err
}

func (s *Service) checkPermission(ctx context.Context, userID, tenantID string, module Module, action Action, storeID string) (Result, error) {
	pc, err := s.resolve(ctx, userID, tenantID)
	if err != nil {
		return s.denyForLoad(err, auth.CodeForbidden)
	}

	if pc.Role == auth.RoleOwner {
		return allow(ReasonOwner), nil
	}

	if pc.Effective(module, storeID).Has(action) {
		return allow(ReasonGranted), nil
	}
	return deny(ReasonActionNotPermitted, auth.CodeForbidden), nil
}

// CheckStoreAccess decides whether userID may operate on storeID. Owners and
// company managers reach every store in their tenant; other roles only their
// assigned stores.
func (s *Service) CheckStoreAccess(ctx context.Context, userID, tenantID, storeID string) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "permission.CheckStoreAccess", trace.WithAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("store.id", storeID),
	))
	defer span.End()

	result, err := s.checkStoreAccess(ctx, userID, tenantID, storeID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.Bool("permission.allowed", result.Allowed))

	s.record("store", result)
	return result, err
}

func (s *Service) checkStoreAccess(ctx context.Context, userID, tenantID, storeID string) (Result, error) {
	if storeID == "" {
		return deny(ReasonMissingStore, auth.CodeStoreForbidden), nil
	}

	pc, err := s.resolve(ctx, userID, tenantID)
	if err != nil {
		return s.denyForLoad(err, auth.CodeStoreForbidden)
	}

	if auth.HasImplicitStoreAccess(pc.Role) {
		return allow(ReasonImplicitStore), nil
	}
	if pc.HasStore(storeID) {
		return allow(ReasonAssignedStore), nil
	}
	return deny(ReasonStoreNotAccessible, auth.CodeStoreForbidden), nil
}

// EffectivePermissions returns every module with at least one granted action,
// after tier shadowing, optionally scoped to storeID
func (s *Service) EffectivePermissions(ctx context.Context, userID, tenantID, storeID string) (ModulePermissions, error) {
	pc, err := s.resolve(ctx, userID, tenantID)
	if err != nil {
		return nil, err
	}

	perms := make(ModulePermissions)
	for _, module := range AllModules() {
		var set ActionSet
		if pc.Role == auth.RoleOwner {
			set = AllActions()
		} else {
			set = pc.Effective(module, storeID)
		}
		if len(set) > 0 {
			perms[module] = slices.Clone(set)
		}
	}
	return perms, nil
}

// Invalidate drops the cached context for userID. With an empty tenantID the
// user is dropped from every tenant.
func (s *Service) Invalidate(userID, tenantID string) int {
	if tenantID != "" {
		if s.cache.Invalidate(CacheKey(tenantID, userID)) {
			return 1
		}
		return 0
	}
	return s.cache.InvalidateWhere(func(_ string, pc *PermissionContext) bool {
		return pc.UserID == userID
	})
}

// InvalidateTenant drops every cached context for tenantID
func (s *Service) InvalidateTenant(tenantID string) int {
	return s.cache.InvalidateByPrefix(tenantID + ":")
}

// InvalidateRole drops every cached context holding role, optionally limited to tenantID
func (s *Service) InvalidateRole(role auth.Role, tenantID string) int {
	return s.cache.InvalidateWhere(func(_ string, pc *PermissionContext) bool {
		return pc.Role == role && (tenantID == "" || pc.TenantID == tenantID)
	})
}

// InvalidateStore drops every cached context that references storeID, through
// either store assignment or store overrides, optionally limited to tenantID
func (s *Service) InvalidateStore(storeID, tenantID string) int {
	return s.cache.InvalidateWhere(func(_ string, pc *PermissionContext) bool {
		return pc.referencesStore(storeID) && (tenantID == "" || pc.TenantID == tenantID)
	})
}

// Apply performs the invalidation an event describes on this instance only and
// returns the number of cache entries removed
func (s *Service) Apply(event Event) (int, error) {
	switch event.Kind {
	case EventUser:
		if event.UserID == "" {
			return 0, fmt.Errorf("%w: user event without user id", ErrInvalidEvent)
		}
		return s.Invalidate(event.UserID, event.TenantID), nil
	case EventTenant:
		if event.TenantID == "" {
			return 0, fmt.Errorf("%w: tenant event without tenant id", ErrInvalidEvent)
		}
		return s.InvalidateTenant(event.TenantID), nil
	case EventRole:
		if !event.Role.Valid() {
			return 0, fmt.Errorf("%w: unknown role %q", ErrInvalidEvent, event.Role)
		}
		return s.InvalidateRole(event.Role, event.TenantID), nil
	case EventStore:
		if event.StoreID == "" {
			return 0, fmt.Errorf("%w: store event without store id", ErrInvalidEvent)
		}
		return s.InvalidateStore(event.StoreID, event.TenantID), nil
	default:
		return 0, fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, event.Kind)
	}
}

// Stats returns cache statistics
func (s *Service) Stats() permcache.Stats {
	return s.cache.Stats()
}

// Close stops the cache's background sweep
func (s *Service) Close() {
	s.cache.Dispose()
}

// resolve returns the permission context for a user, loading it from the
// directory on a cache miss. Concurrent misses for the same key share one load.
func (s *Service) resolve(ctx context.Context, userID, tenantID string) (*PermissionContext, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}

	key := CacheKey(tenantID, userID)
	gen := s.cache.Generation()
	if pc, ok := s.cache.Get(key); ok && pc.TenantID == tenantID && pc.UserID == userID {
		return pc, nil
	}

	// Only callers that saw the same generation share a load, so a request
	// issued after an invalidation never receives a context read before it.
	flight := fmt.Sprintf("%q/%q#%d", tenantID, userID, gen)
	ch := s.loads.DoChan(flight, func() (interface{}, error) {
		return s.load(context.WithoutCancel(ctx), key, userID, tenantID, gen)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*PermissionContext), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to load permission context: %w", ctx.Err())
	}
}

func (s *Service) load(ctx context.Context, key, userID, tenantID string, gen uint64) (*PermissionContext, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.LoadTimeout)
	defer cancel()

	pc, err := s.directory.LoadContext(ctx, userID, tenantID)
	if err != nil {
		if errors.Is(err, ErrContextNotFound) {
			return nil, ErrContextNotFound
		}
		return nil, fmt.Errorf("failed to load permission context: %w", err)
	}
	if pc == nil {
		return nil, ErrContextNotFound
	}
	if pc.UserID != userID || pc.TenantID != tenantID {
		return nil, ErrTenantMismatch
	}
	if !pc.Role.Valid() {
		return nil, fmt.Errorf("failed to load permission context: %w: %q", auth.ErrUnknownRole, pc.Role)
	}

	stores, err := s.directory.LoadAccessibleStores(ctx, userID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load accessible stores: %w", err)
	}

	resolved := *pc
	resolved.AccessibleStoreIDs = slices.Clone(stores)

	if !s.cache.PutIfUnchanged(key, &resolved, 0, gen) {
		s.logger.WithFields(logrus.Fields{
			"tenant_id": tenantID,
			"user_id":   userID,
		}).Debug("permission context invalidated during load, not cached")
	}
	return &resolved, nil
}

// denyForLoad converts a resolve failure into a denial. Missing or mismatched
// contexts are ordinary denials; anything else is also returned as an error.
func (s *Service) denyForLoad(err error, code auth.ErrorCode) (Result, error) {
	switch {
	case errors.Is(err, ErrContextNotFound), errors.Is(err, ErrMissingUser):
		return deny(ReasonNoContext, code), nil
	case errors.Is(err, ErrTenantMismatch):
		return deny(ReasonTenantMismatch, code), nil
	default:
		return deny(ReasonDirectoryError, code), err
	}
}

func (s *Service) record(check string, result Result) {
	if s.recorder != nil {
		s.recorder.RecordDecision(check, result.Allowed, string(result.Reason))
	}
}
