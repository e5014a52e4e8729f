package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(hub *Hub, room string) *Client {
	return &Client{
		hub:      hub,
		send:     make(chan []byte, 8),
		userID:   uuid.New(),
		username: "User_TEST01",
		room:     room,
	}
}

func join(t *testing.T, hub *Hub, client *Client, wantSize int) {
	t.Helper()
	hub.register <- client
	require.Eventually(t, func() bool {
		return hub.RoomSize(client.room) == wantSize
	}, time.Second, 5*time.Millisecond)
}

func receive(t *testing.T, client *Client) *Message {
	t.Helper()
	select {
	case payload := <-client.send:
		var msg Message
		require.NoError(t, json.Unmarshal(payload, &msg))
		return &msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func assertSilent(t *testing.T, client *Client) {
	t.Helper()
	select {
	case payload := <-client.send:
		t.Fatalf("unexpected message delivered: %s", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcast_SkipsSender(t *testing.T) {
	hub := NewHub(nil, nil)
	room := uuid.New().String()
	sender := newTestClient(hub, room)
	peer := newTestClient(hub, room)
	join(t, hub, sender, 1)
	join(t, hub, peer, 2)

	hub.Broadcast(&Message{
		Type:     TypeOffer,
		Room:     room,
		SenderID: sender.userID,
		Data:     json.RawMessage(`{"sdp":"v=0"}`),
	})

	got := receive(t, peer)
	assert.Equal(t, TypeOffer, got.Type)
	assert.Equal(t, sender.userID, got.SenderID)
	assert.False(t, got.Timestamp.IsZero())
	assertSilent(t, sender)
}

func TestBroadcast_EchoReachesSender(t *testing.T) {
	hub := NewHub(nil, nil)
	room := uuid.New().String()
	sender := newTestClient(hub, room)
	peer := newTestClient(hub, room)
	join(t, hub, sender, 1)
	join(t, hub, peer, 2)

	hub.Broadcast(&Message{
		Type:     TypeChatMessage,
		Room:     room,
		SenderID: sender.userID,
		Data:     json.RawMessage(`{"content":"hi"}`),
		Echo:     true,
	})

	assert.Equal(t, TypeChatMessage, receive(t, peer).Type)
	assert.Equal(t, TypeChatMessage, receive(t, sender).Type)
}

func TestBroadcast_TargetedOnlyReachesTarget(t *testing.T) {
	hub := NewHub(nil, nil)
	room := uuid.New().String()
	target := newTestClient(hub, room)
	bystander := newTestClient(hub, room)
	join(t, hub, target, 1)
	join(t, hub, bystander, 2)

	hub.Broadcast(&Message{
		Type:     TypeError,
		Room:     room,
		TargetID: target.userID,
		Data:     json.RawMessage(`{"code":"UNKNOWN_MESSAGE_TYPE"}`),
	})

	assert.Equal(t, TypeError, receive(t, target).Type)
	assertSilent(t, bystander)
}

func TestBroadcast_RoomsAreIsolated(t *testing.T) {
	hub := NewHub(nil, nil)
	caller := newTestClient(hub, uuid.New().String())
	other := newTestClient(hub, uuid.New().String())
	join(t, hub, caller, 1)
	join(t, hub, other, 1)

	hub.Broadcast(&Message{
		Type:     TypeICECandidate,
		Room:     caller.room,
		SenderID: uuid.New(),
		Data:     json.RawMessage(`{"candidate":"host"}`),
	})

	assert.Equal(t, TypeICECandidate, receive(t, caller).Type)
	assertSilent(t, other)
}

func TestBroadcastEvent_ReachesEveryMember(t *testing.T) {
	hub := NewHub(nil, nil)
	first := newTestClient(hub, GlobalRoom)
	second := newTestClient(hub, GlobalRoom)
	join(t, hub, first, 1)
	join(t, hub, second, 2)

	callID := uuid.New()
	hub.BroadcastEvent(GlobalRoom, TypeMatchFound, map[string]any{"call_id": callID})

	for _, client := range []*Client{first, second} {
		got := receive(t, client)
		assert.Equal(t, TypeMatchFound, got.Type)

		var data map[string]string
		require.NoError(t, json.Unmarshal(got.Data, &data))
		assert.Equal(t, callID.String(), data["call_id"])
	}
}

func TestUnregister_ShrinksRoom(t *testing.T) {
	hub := NewHub(nil, nil)
	room := uuid.New().String()
	staying := newTestClient(hub, room)
	leaving := newTestClient(hub, room)
	join(t, hub, staying, 1)
	join(t, hub, leaving, 2)

	hub.unregister <- leaving
	require.Eventually(t, func() bool {
		return hub.RoomSize(room) == 1
	}, time.Second, 5*time.Millisecond)

	hub.Broadcast(&Message{
		Type:     TypeOffer,
		Room:     room,
		SenderID: uuid.New(),
		Data:     json.RawMessage(`{}`),
	})
	assert.Equal(t, TypeOffer, receive(t, staying).Type)
}
