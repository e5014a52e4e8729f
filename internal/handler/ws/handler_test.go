package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"randomtalk-backend/internal/domain"
)

type fakeChat struct {
	saved []string
	err   error
}

func (f *fakeChat) SaveMessage(ctx context.Context, callID, senderID uuid.UUID, content string) (*domain.ChatMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.saved = append(f.saved, content)
	return &domain.ChatMessage{
		MessageID:  uuid.New(),
		CallID:     callID,
		SenderID:   senderID,
		SenderName: "User_TEST01",
		Content:    content,
		SentAt:     time.Now(),
	}, nil
}

func receiveError(t *testing.T, client *Client, code string) {
	t.Helper()
	got := receive(t, client)
	require.Equal(t, TypeError, got.Type)
	var notice struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(got.Data, &notice))
	assert.Equal(t, code, notice.Code)
	assert.NotEmpty(t, notice.Message)
}

func TestDispatch_UnknownTypeNotifiesSenderOnly(t *testing.T) {
	hub := NewHub(nil, nil)
	h := NewHandler(hub, nil, nil, nil, nil, nil)
	room := uuid.New().String()
	sender := newTestClient(hub, room)
	peer := newTestClient(hub, room)
	join(t, hub, sender, 1)
	join(t, hub, peer, 2)

	h.dispatch(sender, []byte(`{"type":"wave","data":{}}`))

	receiveError(t, sender, "UNKNOWN_MESSAGE_TYPE")
	assertSilent(t, peer)

	// The connection stays open; a valid frame still relays.
	h.dispatch(sender, []byte(`{"type":"offer","data":{"sdp":"v=0"}}`))
	assert.Equal(t, TypeOffer, receive(t, peer).Type)
}

func TestDispatch_MalformedFrameNotifiesSender(t *testing.T) {
	hub := NewHub(nil, nil)
	h := NewHandler(hub, nil, nil, nil, nil, nil)
	room := uuid.New().String()
	sender := newTestClient(hub, room)
	peer := newTestClient(hub, room)
	join(t, hub, sender, 1)
	join(t, hub, peer, 2)

	h.dispatch(sender, []byte(`{not json`))

	receiveError(t, sender, "INVALID_FORMAT")
	assertSilent(t, peer)
}

func TestDispatch_SignalingRejectedInMatchingRoom(t *testing.T) {
	hub := NewHub(nil, nil)
	h := NewHandler(hub, nil, nil, nil, nil, nil)
	sender := newTestClient(hub, GlobalRoom)
	peer := newTestClient(hub, GlobalRoom)
	join(t, hub, sender, 1)
	join(t, hub, peer, 2)

	for _, msgType := range []string{TypeOffer, TypeAnswer, TypeICECandidate} {
		h.dispatch(sender, []byte(`{"type":"`+msgType+`","data":{"sdp":"v=0"}}`))
		receiveError(t, sender, "INVALID_FORMAT")
	}
	assertSilent(t, peer)
}

func TestDispatch_SignalPayloadMustBeJSON(t *testing.T) {
	hub := NewHub(nil, nil)
	h := NewHandler(hub, nil, nil, nil, nil, nil)
	room := uuid.New().String()
	sender := newTestClient(hub, room)
	peer := newTestClient(hub, room)
	join(t, hub, sender, 1)
	join(t, hub, peer, 2)

	h.dispatch(sender, []byte(`{"type":"offer"}`))

	receiveError(t, sender, "INVALID_FORMAT")
	assertSilent(t, peer)
}

func TestDispatch_ChatPersistsAndEchoes(t *testing.T) {
	hub := NewHub(nil, nil)
	chat := &fakeChat{}
	h := NewHandler(hub, nil, chat, nil, nil, nil)
	room := uuid.New().String()
	sender := newTestClient(hub, room)
	peer := newTestClient(hub, room)
	join(t, hub, sender, 1)
	join(t, hub, peer, 2)

	h.dispatch(sender, []byte(`{"type":"chat_message","data":{"content":"hi there"}}`))

	assert.Equal(t, []string{"hi there"}, chat.saved)
	for _, client := range []*Client{sender, peer} {
		got := receive(t, client)
		require.Equal(t, TypeChatMessage, got.Type)
		var body struct {
			Content string `json:"content"`
		}
		require.NoError(t, json.Unmarshal(got.Data, &body))
		assert.Equal(t, "hi there", body.Content)
		assert.Equal(t, "User_TEST01", got.SenderName)
	}
}

func TestRespondAuthorizeError_MapsWrappedSentinels(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(nil, nil)
	h := NewHandler(hub, nil, nil, nil, nil, nil)

	cases := []struct {
		err        error
		wantStatus int
	}{
		{fmt.Errorf("failed to load call: %w", domain.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("membership check: %w", domain.ErrNotParticipant), http.StatusUnauthorized},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/ws/room", nil)
		h.respondAuthorizeError(c, tc.err)
		assert.Equal(t, tc.wantStatus, w.Code)
	}
}

func TestDispatch_LookingForMatchOnlyInMatchingRoom(t *testing.T) {
	hub := NewHub(nil, nil)
	h := NewHandler(hub, nil, nil, nil, nil, nil)

	inCall := newTestClient(hub, uuid.New().String())
	join(t, hub, inCall, 1)
	h.dispatch(inCall, []byte(`{"type":"looking_for_match","data":{}}`))
	receiveError(t, inCall, "INVALID_FORMAT")

	sender := newTestClient(hub, GlobalRoom)
	peer := newTestClient(hub, GlobalRoom)
	join(t, hub, sender, 1)
	join(t, hub, peer, 2)
	h.dispatch(sender, []byte(`{"type":"looking_for_match","data":{}}`))
	assert.Equal(t, TypeLookingForMatch, receive(t, peer).Type)
	assertSilent(t, sender)
}
