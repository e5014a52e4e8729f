package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"randomtalk-backend/internal/domain"
)

func newOnlineUser(t *testing.T, s *Store, name string) *domain.User {
	t.Helper()
	user := &domain.User{
		UserID:   uuid.New(),
		Username: name,
		Online:   true,
		LastSeen: time.Now(),
	}
	err := s.Create(context.Background(), user)
	assert.NoError(t, err)
	return user
}

func TestCreateCall_ClaimsSlotOnce(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	user := newOnlineUser(t, s, "User_100001")
	now := time.Now()

	call, err := s.CreateCall(ctx, user.UserID, now)
	assert.NoError(t, err)
	assert.Equal(t, domain.CallStatusWaiting, call.Status)
	assert.Equal(t, user.UserID, call.InitiatorID)

	stored, err := s.GetByID(ctx, user.UserID)
	assert.NoError(t, err)
	assert.Equal(t, call.CallID, *stored.CurrentCallID)
	assert.True(t, stored.LookingForCall)

	_, err = s.CreateCall(ctx, user.UserID, now)
	assert.ErrorIs(t, err, domain.ErrAlreadyInCall)
}

func TestBindSeeking_ActivatesBothCalls(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	alice := newOnlineUser(t, s, "User_100002")
	bob := newOnlineUser(t, s, "User_100003")
	now := time.Now()

	aliceCall, err := s.CreateCall(ctx, alice.UserID, now)
	assert.NoError(t, err)
	bobCall, err := s.CreateCall(ctx, bob.UserID, now)
	assert.NoError(t, err)

	err = s.BindSeeking(ctx, alice.UserID, aliceCall.CallID, bob.UserID, bobCall.CallID, now)
	assert.NoError(t, err)

	for _, callID := range []uuid.UUID{aliceCall.CallID, bobCall.CallID} {
		call, err := s.GetCallByID(ctx, callID)
		assert.NoError(t, err)
		assert.Equal(t, domain.CallStatusActive, call.Status)
		assert.NotNil(t, call.ParticipantID)
		assert.NotNil(t, call.StartedAt)
	}

	storedAlice, _ := s.GetByID(ctx, alice.UserID)
	storedBob, _ := s.GetByID(ctx, bob.UserID)
	assert.False(t, storedAlice.LookingForCall)
	assert.False(t, storedBob.LookingForCall)
}

func TestBindSeeking_ConflictWhenCandidateTaken(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	alice := newOnlineUser(t, s, "User_100004")
	bob := newOnlineUser(t, s, "User_100005")
	carol := newOnlineUser(t, s, "User_100006")
	now := time.Now()

	aliceCall, _ := s.CreateCall(ctx, alice.UserID, now)
	bobCall, _ := s.CreateCall(ctx, bob.UserID, now)
	carolCall, _ := s.CreateCall(ctx, carol.UserID, now)

	err := s.BindSeeking(ctx, alice.UserID, aliceCall.CallID, carol.UserID, carolCall.CallID, now)
	assert.NoError(t, err)

	err = s.BindSeeking(ctx, bob.UserID, bobCall.CallID, carol.UserID, carolCall.CallID, now)
	assert.ErrorIs(t, err, domain.ErrMatchConflict)

	// Bob's waiting call survives for another attempt.
	call, err := s.GetCallByID(ctx, bobCall.CallID)
	assert.NoError(t, err)
	assert.Equal(t, domain.CallStatusWaiting, call.Status)
}

func TestBindFresh_ConcurrentClaimsSingleWinner(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	candidate := newOnlineUser(t, s, "User_100007")
	now := time.Now()

	const requesters = 8
	var wg sync.WaitGroup
	errs := make([]error, requesters)
	for i := 0; i < requesters; i++ {
		requester := newOnlineUser(t, s, "User_20000"+string(rune('0'+i)))
		call, err := s.CreateCall(ctx, requester.UserID, now)
		assert.NoError(t, err)

		wg.Add(1)
		go func(i int, requesterID, callID uuid.UUID) {
			defer wg.Done()
			_, errs[i] = s.BindFresh(ctx, requesterID, callID, candidate.UserID, now)
		}(i, requester.UserID, call.CallID)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, domain.ErrMatchConflict)
		}
	}
	assert.Equal(t, 1, wins)
}

func TestBindPreempt_EndsExistingCall(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	alice := newOnlineUser(t, s, "User_100008")
	bob := newOnlineUser(t, s, "User_100009")
	carol := newOnlineUser(t, s, "User_100010")
	now := time.Now()

	aliceCall, _ := s.CreateCall(ctx, alice.UserID, now)
	bobCall, _ := s.CreateCall(ctx, bob.UserID, now)
	err := s.BindSeeking(ctx, alice.UserID, aliceCall.CallID, bob.UserID, bobCall.CallID, now)
	assert.NoError(t, err)

	carolCall, _ := s.CreateCall(ctx, carol.UserID, now)
	newCall, preempted, err := s.BindPreempt(ctx, carol.UserID, carolCall.CallID, bob.UserID, now.Add(10*time.Second))
	assert.NoError(t, err)
	assert.NotNil(t, preempted)
	assert.Equal(t, domain.CallStatusEnded, preempted.Status)
	assert.Equal(t, 10, preempted.Duration)
	assert.Equal(t, domain.CallStatusActive, newCall.Status)

	storedBob, _ := s.GetByID(ctx, bob.UserID)
	assert.Equal(t, newCall.CallID, *storedBob.CurrentCallID)
}

func TestTerminate_SkipKeepsZeroDuration(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	alice := newOnlineUser(t, s, "User_100011")
	bob := newOnlineUser(t, s, "User_100012")
	start := time.Now()

	aliceCall, _ := s.CreateCall(ctx, alice.UserID, start)
	bobCall, _ := s.CreateCall(ctx, bob.UserID, start)
	err := s.BindSeeking(ctx, alice.UserID, aliceCall.CallID, bob.UserID, bobCall.CallID, start)
	assert.NoError(t, err)

	result, err := s.Terminate(ctx, alice.UserID, domain.CallStatusSkipped, start.Add(42*time.Second))
	assert.NoError(t, err)
	assert.Equal(t, domain.CallStatusSkipped, result.Call.Status)
	assert.Equal(t, 0, result.Call.Duration)
	assert.NotNil(t, result.PartnerCall)
	assert.Equal(t, domain.CallStatusSkipped, result.PartnerCall.Status)

	storedAlice, _ := s.GetByID(ctx, alice.UserID)
	storedBob, _ := s.GetByID(ctx, bob.UserID)
	assert.Nil(t, storedAlice.CurrentCallID)
	assert.Nil(t, storedBob.CurrentCallID)
}

func TestTerminate_EndComputesWholeSeconds(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	alice := newOnlineUser(t, s, "User_100013")
	bob := newOnlineUser(t, s, "User_100014")
	start := time.Now()

	aliceCall, _ := s.CreateCall(ctx, alice.UserID, start)
	bobCall, _ := s.CreateCall(ctx, bob.UserID, start)
	err := s.BindSeeking(ctx, alice.UserID, aliceCall.CallID, bob.UserID, bobCall.CallID, start)
	assert.NoError(t, err)

	result, err := s.Terminate(ctx, bob.UserID, domain.CallStatusEnded, start.Add(10500*time.Millisecond))
	assert.NoError(t, err)
	assert.Equal(t, 10, result.Call.Duration)
	assert.Equal(t, alice.UserID, *result.PartnerID)
}

func TestTerminate_NoActiveCall(t *testing.T) {
	s := NewStore()
	user := newOnlineUser(t, s, "User_100015")

	_, err := s.Terminate(context.Background(), user.UserID, domain.CallStatusEnded, time.Now())
	assert.ErrorIs(t, err, domain.ErrNoActiveCall)
}

func TestConcurrentTerminate_SamePair(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	alice := newOnlineUser(t, s, "User_100016")
	bob := newOnlineUser(t, s, "User_100017")
	now := time.Now()

	aliceCall, _ := s.CreateCall(ctx, alice.UserID, now)
	bobCall, _ := s.CreateCall(ctx, bob.UserID, now)
	err := s.BindSeeking(ctx, alice.UserID, aliceCall.CallID, bob.UserID, bobCall.CallID, now)
	assert.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, id := range []uuid.UUID{alice.UserID, bob.UserID} {
		wg.Add(1)
		go func(i int, userID uuid.UUID) {
			defer wg.Done()
			_, results[i] = s.Terminate(ctx, userID, domain.CallStatusEnded, now.Add(time.Second))
		}(i, id)
	}
	wg.Wait()

	applied := 0
	for _, err := range results {
		if err == nil {
			applied++
		} else {
			assert.ErrorIs(t, err, domain.ErrNoActiveCall)
		}
	}
	assert.GreaterOrEqual(t, applied, 1)

	for _, callID := range []uuid.UUID{aliceCall.CallID, bobCall.CallID} {
		call, err := s.GetCallByID(ctx, callID)
		assert.NoError(t, err)
		assert.Equal(t, domain.CallStatusEnded, call.Status)
	}
}

func TestTerminate_RacingBindNeverOrphansPartner(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		s := NewStore()
		alice := newOnlineUser(t, s, "User_100030")
		bob := newOnlineUser(t, s, "User_100031")
		now := time.Now()

		aliceCall, err := s.CreateCall(ctx, alice.UserID, now)
		assert.NoError(t, err)
		bobCall, err := s.CreateCall(ctx, bob.UserID, now)
		assert.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			_, _ = s.Terminate(ctx, alice.UserID, domain.CallStatusEnded, now)
		}()
		go func() {
			defer wg.Done()
			_ = s.BindSeeking(ctx, bob.UserID, bobCall.CallID, alice.UserID, aliceCall.CallID, now)
		}()
		go func() {
			defer wg.Done()
			_ = s.SetLookingForCall(ctx, bob.UserID, true, now)
		}()
		wg.Wait()

		// Whichever interleaving won, nobody may stay bound to a
		// terminal call.
		for _, id := range []uuid.UUID{alice.UserID, bob.UserID} {
			user, err := s.GetByID(ctx, id)
			assert.NoError(t, err)
			if user.CurrentCallID == nil {
				continue
			}
			call, err := s.GetCallByID(ctx, *user.CurrentCallID)
			assert.NoError(t, err)
			assert.False(t, call.Status.Terminal(), "%s bound to terminal call", user.Username)
		}

		// An active pairing implies both mirrored bindings survived.
		aliceState, err := s.GetCallByID(ctx, aliceCall.CallID)
		assert.NoError(t, err)
		if aliceState.Status == domain.CallStatusActive {
			bobState, err := s.GetByID(ctx, bob.UserID)
			assert.NoError(t, err)
			assert.NotNil(t, bobState.CurrentCallID)
		}
	}
}

func TestListSeeking_StableOrder(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	base := time.Now()

	var created []*domain.User
	for i, name := range []string{"User_100018", "User_100019", "User_100020"} {
		user := &domain.User{
			UserID:    uuid.New(),
			Username:  name,
			Online:    true,
			LastSeen:  base,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		assert.NoError(t, s.Create(ctx, user))
		_, err := s.CreateCall(ctx, user.UserID, base)
		assert.NoError(t, err)
		created = append(created, user)
	}

	seeking, err := s.ListSeeking(ctx, uuid.New())
	assert.NoError(t, err)
	assert.Len(t, seeking, 3)
	for i, user := range seeking {
		assert.Equal(t, created[i].UserID, user.UserID)
	}
}

func TestListRecentlyActive_FiltersWindow(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Now()

	recent := &domain.User{UserID: uuid.New(), Username: "User_100021", Online: true, LastSeen: now.Add(-time.Minute)}
	stale := &domain.User{UserID: uuid.New(), Username: "User_100022", Online: true, LastSeen: now.Add(-time.Hour)}
	assert.NoError(t, s.Create(ctx, recent))
	assert.NoError(t, s.Create(ctx, stale))

	users, err := s.ListRecentlyActive(ctx, now.Add(-5*time.Minute), uuid.New())
	assert.NoError(t, err)
	assert.Len(t, users, 1)
	assert.Equal(t, recent.UserID, users[0].UserID)
}

func TestCreate_DuplicateUsername(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	newOnlineUser(t, s, "User_100023")

	err := s.Create(ctx, &domain.User{UserID: uuid.New(), Username: "User_100023"})
	assert.ErrorIs(t, err, domain.ErrUsernameExists)
}
