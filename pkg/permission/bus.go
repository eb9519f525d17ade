package permission

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/tenantauth/pkg/auth"
)

// DefaultInvalidationChannel is the Redis channel invalidation events are published on
const DefaultInvalidationChannel = "tenantauth:permission:invalidate"

// EventKind identifies an invalidation axis
type EventKind string

const (
	EventUser   EventKind = "user"
	EventTenant EventKind = "tenant"
	EventRole   EventKind = "role"
	EventStore  EventKind = "store"
)

// Event is an invalidation broadcast between service instances
type Event struct {
	Kind     EventKind `json:"kind"`
	UserID   string    `json:"user_id,omitempty"`
	TenantID string    `json:"tenant_id,omitempty"`
	Role     auth.Role `json:"role,omitempty"`
	StoreID  string    `json:"store_id,omitempty"`
	Origin   string    `json:"origin"`
}

// InvalidationBus applies invalidations to the local Service and broadcasts them
// over Redis pub/sub so every other instance drops the same entries
type InvalidationBus struct {
	service *Service
	client  *redis.Client
	channel string
	origin  string
	logger  *logrus.Logger
}

// NewInvalidationBus creates a bus for service on channel
func NewInvalidationBus(service *Service, client *redis.Client, channel string, logger *logrus.Logger) *InvalidationBus {
	if channel == "" {
		channel = DefaultInvalidationChannel
	}
	if logger == nil {
		logger = service.logger
	}
	return &InvalidationBus{
		service: service,
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		logger:  logger,
	}
}

// InvalidateUser invalidates a user locally and on every other instance
func (b *InvalidationBus) InvalidateUser(ctx context.Context, userID, tenantID string) error {
	return b.Publish(ctx, Event{Kind: EventUser, UserID: userID, TenantID: tenantID})
}

// InvalidateTenant invalidates a tenant locally and on every other instance
func (b *InvalidationBus) InvalidateTenant(ctx context.Context, tenantID string) error {
	return b.Publish(ctx, Event{Kind: EventTenant, TenantID: tenantID})
}

// InvalidateRole invalidates a role locally and on every other instance
func (b *InvalidationBus) InvalidateRole(ctx context.Context, role auth.Role, tenantID string) error {
	return b.Publish(ctx, Event{Kind: EventRole, Role: role, TenantID: tenantID})
}

// InvalidateStore invalidates a store locally and on every other instance
func (b *InvalidationBus) InvalidateStore(ctx context.Context, storeID, tenantID string) error {
	return b.Publish(ctx, Event{Kind: EventStore, StoreID: storeID, TenantID: tenantID})
}

// Publish applies event locally, then broadcasts it. The local invalidation
// happens even when publishing fails.
func (b *InvalidationBus) Publish(ctx context.Context, event Event) error {
	if _, err := b.service.Apply(event); err != nil {
		return err
	}

	event.Origin = b.origin
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal invalidation event: %w", err)
	}

	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish invalidation event: %w", err)
	}
	return nil
}

// Run subscribes to the channel and applies events from other instances until
// ctx is cancelled. The ready channel, if non-nil, is closed once subscribed.
func (b *InvalidationBus) Run(ctx context.Context, ready chan<- struct{}) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}
	if ready != nil {
		close(ready)
	}

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			b.handle(msg.Payload)
		}
	}
}

func (b *InvalidationBus) handle(payload string) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.WithField("panic", r).Errorf("invalidation handler panicked\n%s", debug.Stack())
		}
	}()

	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		b.logger.WithError(err).Warn("discarding malformed invalidation event")
		return
	}
	if event.Origin == b.origin {
		return
	}

	removed, err := b.service.Apply(event)
	if err != nil {
		b.logger.WithError(err).WithField("kind", event.Kind).Warn("discarding invalid invalidation event")
		return
	}
	b.logger.WithFields(logrus.Fields{
		"kind":    event.Kind,
		"removed": removed,
		"origin":  event.Origin,
	}).Debug("applied remote invalidation")
}
