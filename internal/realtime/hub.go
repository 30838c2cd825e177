// Package realtime fans chat events out to websocket subscribers. With Redis
// configured every API instance sees every event; without it delivery stays
// inside the process.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type EventType string

const (
	EventMessageNew     EventType = "message.new"
	EventMessageEdited  EventType = "message.edited"
	EventMessageDeleted EventType = "message.deleted"
	EventReaction       EventType = "message.reaction"
	EventMemberLeft     EventType = "channel.member_left"
)

const (
	topicPrefix      = "council:chat:"
	subscriberBuffer = 32
)

type Event struct {
	Type      EventType       `json:"type"`
	ChannelID string          `json:"channel_id"`
	Payload   json.RawMessage `json:"payload"`
	At        time.Time       `json:"at"`
}

// NewEvent marshals payload into an event for channelID.
func NewEvent(eventType EventType, channelID string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{Type: eventType, ChannelID: channelID, Payload: raw, At: time.Now().UTC()}, nil
}

type Hub struct {
	mu     sync.Mutex
	rooms  map[string]map[*Subscription]struct{}
	client *redis.Client
	pubsub *redis.PubSub
	logger *zap.Logger
	done   chan struct{}
}

// Subscription receives the events of one channel until Close.
type Subscription struct {
	C         <-chan Event
	ch        chan Event
	hub       *Hub
	channelID string
	once      sync.Once
}

// NewHub builds a hub. client may be nil for in-process delivery only.
func NewHub(ctx context.Context, client *redis.Client, logger *zap.Logger) (*Hub, error) {
	h := &Hub{
		rooms:  make(map[string]map[*Subscription]struct{}),
		client: client,
		logger: logger.Named("realtime"),
		done:   make(chan struct{}),
	}
	if client == nil {
		close(h.done)
		return h, nil
	}

	h.pubsub = client.PSubscribe(ctx, topicPrefix+"*")
	// wait for the subscription so publishes right after start are not lost
	if _, err := h.pubsub.Receive(ctx); err != nil {
		_ = h.pubsub.Close()
		return nil, fmt.Errorf("subscribe chat events: %w", err)
	}
	go h.relay(h.pubsub.Channel())
	return h, nil
}

func (h *Hub) relay(messages <-chan *redis.Message) {
	defer close(h.done)
	for msg := range messages {
		var event Event
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			h.logger.Warn("drop malformed chat event", zap.String("topic", msg.Channel), zap.Error(err))
			continue
		}
		if event.ChannelID == "" {
			event.ChannelID = strings.TrimPrefix(msg.Channel, topicPrefix)
		}
		h.deliver(event)
	}
}

// Publish sends event to every subscriber of its channel.
func (h *Hub) Publish(ctx context.Context, event Event) error {
	if h.client == nil {
		h.deliver(event)
		return nil
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal chat event: %w", err)
	}
	if err := h.client.Publish(ctx, topicPrefix+event.ChannelID, raw).Err(); err != nil {
		return fmt.Errorf("publish chat event: %w", err)
	}
	return nil
}

func (h *Hub) deliver(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.rooms[event.ChannelID] {
		select {
		case sub.ch <- event:
		default:
			h.logger.Warn("chat subscriber lagging, event dropped",
				zap.String("channel_id", event.ChannelID), zap.String("type", string(event.Type)))
		}
	}
}

func (h *Hub) Subscribe(channelID string) *Subscription {
	ch := make(chan Event, subscriberBuffer)
	sub := &Subscription{C: ch, ch: ch, hub: h, channelID: channelID}

	h.mu.Lock()
	room, ok := h.rooms[channelID]
	if !ok {
		room = make(map[*Subscription]struct{})
		h.rooms[channelID] = room
	}
	room[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Subscribers reports how many local subscriptions a channel has.
func (h *Hub) Subscribers(channelID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[channelID])
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		if room, ok := h.rooms[s.channelID]; ok {
			delete(room, s)
			if len(room) == 0 {
				delete(h.rooms, s.channelID)
			}
		}
		h.mu.Unlock()
		close(s.ch)
	})
}

// Close stops the Redis relay. Open subscriptions stay valid but receive
// nothing further from other instances.
func (h *Hub) Close() error {
	if h.pubsub == nil {
		return nil
	}
	err := h.pubsub.Close()
	<-h.done
	return err
}
