// Package changefeed publishes record change notifications over redis pub/sub
// so every server instance and connected client can resynchronize.
package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

const channelPrefix = "changes:"

type Event struct {
	Collection string    `json:"collection"`
	Type       EventType `json:"type"`
	RecordID   string    `json:"record_id"`
	UserID     string    `json:"user_id,omitempty"`
	Audience   []string  `json:"audience,omitempty"`
	Status     string    `json:"status,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Recipients returns the owner followed by the audience, without duplicates.
func (e Event) Recipients() []string {
	seen := make(map[string]struct{}, len(e.Audience)+1)
	out := make([]string, 0, len(e.Audience)+1)
	for _, id := range append([]string{e.UserID}, e.Audience...) {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

type Feed struct {
	redis *redis.Client
}

func New(client *redis.Client) *Feed {
	return &Feed{redis: client}
}

func (f *Feed) Publish(ctx context.Context, event Event) error {
	if event.Collection == "" {
		return fmt.Errorf("change event without collection")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode change event: %w", err)
	}

	if err := f.redis.Publish(ctx, channelFor(event.Collection), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish change event: %w", err)
	}
	return nil
}

// Subscription delivers decoded events until Close is called or the context
// passed to Subscribe ends.
type Subscription struct {
	C <-chan Event

	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Subscribe listens to one or more collections. When types is empty every
// event type is delivered. The subscription is confirmed before returning,
// so events published after Subscribe returns are not missed.
func (f *Feed) Subscribe(ctx context.Context, collections []string, types ...EventType) (*Subscription, error) {
	if len(collections) == 0 {
		return nil, fmt.Errorf("subscribe requires at least one collection")
	}

	channels := make([]string, len(collections))
	for i, c := range collections {
		channels[i] = channelFor(c)
	}

	ctx, cancel := context.WithCancel(ctx)
	pubsub := f.redis.Subscribe(ctx, channels...)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to change feed: %w", err)
	}

	wanted := make(map[EventType]struct{}, len(types))
	for _, t := range types {
		wanted[t] = struct{}{}
	}

	out := make(chan Event, 64)
	sub := &Subscription{
		C:      out,
		pubsub: pubsub,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(sub.done)
		defer close(out)

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					continue
				}
				if len(wanted) > 0 {
					if _, ok := wanted[event.Type]; !ok {
						continue
					}
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return sub, nil
}

func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.pubsub.Close()
		<-s.done
	})
	return err
}

func channelFor(collection string) string {
	return channelPrefix + collection
}

// CollectionFromChannel is the inverse of the channel naming used by Publish.
func CollectionFromChannel(channel string) string {
	return strings.TrimPrefix(channel, channelPrefix)
}
