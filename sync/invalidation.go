// Package sync fans invalidation events out between stores on different
// instances over Redis Pub/Sub.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/huykn/hydration-cache/types"
)

// InvalidationEvent is an alias for types.InvalidationEvent
type InvalidationEvent = types.InvalidationEvent

// PubSubSynchronizer publishes a store's invalidations on a Redis channel
// and applies the ones published by peers.
type PubSubSynchronizer struct {
	client     *redis.Client
	channel    string
	instanceID string

	pubsub *redis.PubSub

	mu       sync.RWMutex
	handlers []func(event InvalidationEvent)
	onError  func(error)

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewPubSubSynchronizer creates a synchronizer on channel. Events sent by
// instanceID are not delivered back to it.
func NewPubSubSynchronizer(client *redis.Client, channel, instanceID string) *PubSubSynchronizer {
	return &PubSubSynchronizer{
		client:     client,
		channel:    channel,
		instanceID: instanceID,
		done:       make(chan struct{}),
	}
}

// OnError registers a callback for events that cannot be decoded.
func (ps *PubSubSynchronizer) OnError(fn func(error)) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.onError = fn
}

// Subscribe starts listening for invalidation events. It returns once Redis
// has confirmed the subscription.
func (ps *PubSubSynchronizer) Subscribe(ctx context.Context) error {
	pubsub := ps.client.Subscribe(ctx, ps.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", ps.channel, err)
	}
	ps.pubsub = pubsub

	ps.wg.Add(1)
	go ps.listen(pubsub.Channel())
	return nil
}

// Publish sends event to every peer. An empty Sender is filled with this
// instance's id.
func (ps *PubSubSynchronizer) Publish(ctx context.Context, event InvalidationEvent) error {
	if event.Sender == "" {
		event.Sender = ps.instanceID
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode invalidation: %w", err)
	}
	return ps.client.Publish(ctx, ps.channel, data).Err()
}

// OnInvalidate registers a handler for peer events.
func (ps *PubSubSynchronizer) OnInvalidate(handler func(event InvalidationEvent)) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.handlers = append(ps.handlers, handler)
}

// Close stops the listener and closes the subscription. The Redis client is
// owned by the caller. Close is safe to call more than once.
func (ps *PubSubSynchronizer) Close() error {
	var err error
	ps.closeOnce.Do(func() {
		close(ps.done)
		if ps.pubsub != nil {
			err = ps.pubsub.Close()
		}
		ps.wg.Wait()
	})
	return err
}

func (ps *PubSubSynchronizer) listen(ch <-chan *redis.Message) {
	defer ps.wg.Done()

	for {
		select {
		case <-ps.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if msg != nil {
				ps.dispatch(msg.Payload)
			}
		}
	}
}

func (ps *PubSubSynchronizer) dispatch(payload string) {
	var event InvalidationEvent
	err := json.Unmarshal([]byte(payload), &event)
	if err == nil && !slices.Contains([]types.Action{types.Invalidate, types.InvalidatePrefix, types.Clear}, event.Action) {
		err = fmt.Errorf("unknown action %q", event.Action)
	}

	ps.mu.RLock()
	handlers := slices.Clone(ps.handlers)
	onError := ps.onError
	ps.mu.RUnlock()

	if err != nil {
		if onError != nil {
			onError(fmt.Errorf("invalidation on %s: %w", ps.channel, err))
		}
		return
	}
	if event.Sender == ps.instanceID {
		return
	}
	for _, handle := range handlers {
		handle(event)
	}
}
