package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"randomtalk-backend/pkg/constants"
	"randomtalk-backend/pkg/logger"
)

// Room keys are call UUIDs in string form, plus one fixed key for the
// global match-announcement room.
const GlobalRoom = constants.MatchingRoom

// Message types relayed between peers or pushed by the server.
const (
	TypeOffer                 = "offer"
	TypeAnswer                = "answer"
	TypeICECandidate          = "ice_candidate"
	TypeChatMessage           = "chat_message"
	TypeLookingForMatch       = "looking_for_match"
	TypeMatchFound            = "match_found"
	TypeCallEnded             = "call_ended"
	TypeConnectionEstablished = "connection_established"
	TypeError                 = "error"
)

// Message is the relay envelope. Routing fields travel with the payload
// so an instance receiving it over Redis can deliver it unchanged.
type Message struct {
	Type       string          `json:"type"`
	Room       string          `json:"room"`
	SenderID   uuid.UUID       `json:"sender_id,omitempty"`
	SenderName string          `json:"sender_name,omitempty"`
	TargetID   uuid.UUID       `json:"target_id,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Echo       bool            `json:"echo,omitempty"`
	Origin     string          `json:"origin,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Recorder receives relay metrics. *metrics.Metrics satisfies it.
type Recorder interface {
	WebSocketConnected()
	WebSocketDisconnected()
	RecordWebSocketMessage(msgType string)
	RecordWebSocketError(reason string)
}

// Hub routes messages between the connections of each room. A nil Redis
// client keeps fanout instance-local, which single-node deployments and
// tests use.
type Hub struct {
	rooms               map[string]map[*Client]bool
	subscriptionCancels map[string]context.CancelFunc

	redisClient *redis.Client
	instanceID  string
	metrics     Recorder

	mu sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
}

// NewHub creates a hub and starts its routing loop.
func NewHub(redisClient *redis.Client, metrics Recorder) *Hub {
	hub := &Hub{
		rooms:               make(map[string]map[*Client]bool),
		subscriptionCancels: make(map[string]context.CancelFunc),
		redisClient:         redisClient,
		instanceID:          uuid.New().String(),
		metrics:             metrics,
		register:            make(chan *Client),
		unregister:          make(chan *Client),
		broadcast:           make(chan *Message, 256),
	}

	go hub.run()

	return hub
}

func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.rooms[client.room] == nil {
				h.rooms[client.room] = make(map[*Client]bool)

				if h.redisClient != nil {
					ctx, cancel := context.WithCancel(context.Background())
					h.subscriptionCancels[client.room] = cancel
					go h.subscribeToRoom(ctx, client.room)
				}
			}
			h.rooms[client.room][client] = true
			h.mu.Unlock()

			if h.metrics != nil {
				h.metrics.WebSocketConnected()
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.rooms[client.room]; ok {
				if _, exists := clients[client]; exists {
					delete(clients, client)
					close(client.send)

					if len(clients) == 0 {
						if cancel, ok := h.subscriptionCancels[client.room]; ok {
							cancel()
							delete(h.subscriptionCancels, client.room)
						}
						delete(h.rooms, client.room)
					}
				}
			}
			h.mu.Unlock()

			if h.metrics != nil {
				h.metrics.WebSocketDisconnected()
			}

		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

// deliver fans a message out to its room's local connections.
func (h *Hub) deliver(message *Message) {
	payload, err := json.Marshal(message)
	if err != nil {
		logger.Error("failed to marshal relay message",
			zap.String("type", message.Type), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.rooms[message.Room]
	if !ok {
		return
	}

	for client := range clients {
		if message.TargetID != uuid.Nil {
			if client.userID != message.TargetID {
				continue
			}
		} else if !message.Echo && client.userID == message.SenderID {
			// Never echo a relayed message back to its sender.
			continue
		}
		select {
		case client.send <- payload:
		default:
			// Slow consumer; drop the connection rather than block the hub.
			close(client.send)
			delete(clients, client)
		}
	}

	if len(clients) == 0 {
		if cancel, ok := h.subscriptionCancels[message.Room]; ok {
			cancel()
			delete(h.subscriptionCancels, message.Room)
		}
		delete(h.rooms, message.Room)
	}
}

// Broadcast routes a message to its room, locally and across instances.
// Messages with a target are delivered only to that user's connections
// and never leave the instance.
func (h *Hub) Broadcast(message *Message) {
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	message.Origin = h.instanceID

	h.broadcast <- message

	if h.redisClient != nil && message.TargetID == uuid.Nil {
		go h.publish(message)
	}
}

// BroadcastEvent pushes a server-generated event to every member of a
// room.
func (h *Hub) BroadcastEvent(room, msgType string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		logger.Error("failed to marshal event payload",
			zap.String("type", msgType), zap.Error(err))
		return
	}
	h.Broadcast(&Message{
		Type: msgType,
		Room: room,
		Data: payload,
		Echo: true,
	})
}

func (h *Hub) publish(message *Message) {
	payload, err := json.Marshal(message)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.redisClient.Publish(ctx, roomChannel(message.Room), payload).Err(); err != nil {
		logger.Warn("failed to publish relay message",
			zap.String("room", message.Room), zap.Error(err))
	}
}

// subscribeToRoom feeds messages published by other instances into the
// local fanout. Messages tagged with this instance's origin were
// already delivered locally and are skipped.
func (h *Hub) subscribeToRoom(ctx context.Context, room string) {
	pubsub := h.redisClient.Subscribe(ctx, roomChannel(room))
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		logger.Error("failed to subscribe to room channel",
			zap.String("room", room), zap.Error(err))
		return
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			if msg == nil {
				continue
			}
			var message Message
			if err := json.Unmarshal([]byte(msg.Payload), &message); err != nil {
				logger.Warn("failed to unmarshal relay message",
					zap.String("room", room), zap.Error(err))
				continue
			}
			if message.Origin == h.instanceID {
				continue
			}
			h.broadcast <- &message
		}
	}
}

// RoomSize reports the number of local connections in a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func roomChannel(room string) string {
	return fmt.Sprintf("room:%s", room)
}
