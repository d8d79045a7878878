package realtime

import (
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/votefest/wallet-service/internal/domain"
)

func TestNotifyAccount_ReachesEveryConnectionOfTheAccount(t *testing.T) {
	reg := NewRegistry(5, nil)
	d := NewDispatcher(reg, nil, nil)

	alice := userIdentity("alice")
	_, tab1 := register(t, reg, alice)
	_, tab2 := register(t, reg, alice)
	_, other := register(t, reg, userIdentity("bob"))

	n := d.NotifyAccount(alice.AccountID, domain.EventWalletUpdate, domain.WalletUpdatePayload{NewBalance: "60.00"})
	assert.Equal(t, 2, n)

	for _, em := range []*recordingEmitter{tab1, tab2} {
		frames := em.Events(domain.EventWalletUpdate)
		require.Len(t, frames, 1)
		payload := decodeData[domain.WalletUpdatePayload](t, frames[0])
		assert.Equal(t, json.Number("60.00"), payload.NewBalance)
	}
	assert.Empty(t, other.Frames())
}

func TestNotifyRole_OnlyAdmins(t *testing.T) {
	reg := NewRegistry(5, nil)
	d := NewDispatcher(reg, nil, nil)

	_, admin := register(t, reg, adminIdentity("root"))
	_, user := register(t, reg, userIdentity("alice"))
	_, guest := register(t, reg, domain.Anonymous())

	assert.Equal(t, 1, d.NotifyRole(domain.RoleAdmin, domain.EventUserStatus, domain.StatusPayload{Status: domain.StatusOnline}))
	assert.Len(t, admin.Frames(), 1)
	assert.Empty(t, user.Frames())
	assert.Empty(t, guest.Frames())
}

func TestBroadcastExcept_SkipsOrigin(t *testing.T) {
	reg := NewRegistry(5, nil)
	d := NewDispatcher(reg, nil, nil)

	origin, originEm := register(t, reg, adminIdentity("root"))
	_, a := register(t, reg, userIdentity("alice"))
	_, b := register(t, reg, domain.Anonymous())

	assert.Equal(t, 2, d.BroadcastExcept(origin.ID, domain.EventAdminStatus, domain.StatusPayload{Status: domain.StatusOnline}))
	assert.Empty(t, originEm.Frames())
	assert.Len(t, a.Frames(), 1)
	assert.Len(t, b.Frames(), 1)
}

func TestDispatch_FailedSendDropsConnection(t *testing.T) {
	reg := NewRegistry(5, nil)
	d := NewDispatcher(reg, nil, nil)

	alice := userIdentity("alice")
	dead, deadEm := register(t, reg, alice)
	deadEm.sendErr = ErrSlowConsumer
	_, live := register(t, reg, alice)

	n := d.NotifyAccount(alice.AccountID, domain.EventWalletUpdate, domain.WalletUpdatePayload{NewBalance: "1.00"})
	assert.Equal(t, 1, n)
	assert.Len(t, live.Frames(), 1)

	assert.True(t, deadEm.IsClosed())
	_, ok := reg.Get(dead.ID)
	assert.False(t, ok)
	assert.Equal(t, 1, reg.CountFor(alice.AccountID))
}

func TestDispatch_NoTargetsIsNoop(t *testing.T) {
	d := NewDispatcher(NewRegistry(5, nil), nil, nil)
	assert.Zero(t, d.NotifyAccount(userIdentity("ghost").AccountID, domain.EventWalletUpdate, nil))
	assert.Zero(t, d.Broadcast(domain.EventVoteUpdate, nil))
}

func TestBroadcastThrottled_CoalescesBurstIntoLastPayload(t *testing.T) {
	reg := NewRegistry(5, nil)
	d := NewDispatcher(reg, nil, nil)
	defer d.Close()
	_, em := register(t, reg, domain.Anonymous())

	var computed atomic.Int32
	for i := 0; i < 10; i++ {
		i := i
		d.BroadcastThrottled(domain.EventLeaderboardUpdate, func() (any, error) {
			computed.Add(1)
			return map[string]int{"seq": i}, nil
		}, 30*time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return len(em.Events(domain.EventLeaderboardUpdate)) == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	frames := em.Events(domain.EventLeaderboardUpdate)
	require.Len(t, frames, 1)
	assert.Equal(t, 9, decodeData[map[string]int](t, frames[0])["seq"])
	assert.EqualValues(t, 1, computed.Load())
}

func TestBroadcastThrottled_SteadyBurstStillFlushes(t *testing.T) {
	reg := NewRegistry(5, nil)
	d := NewDispatcher(reg, nil, nil)
	defer d.Close()
	_, em := register(t, reg, domain.Anonymous())

	window := 40 * time.Millisecond
	stop := time.After(400 * time.Millisecond)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-stop:
			break loop
		case <-ticker.C:
			d.BroadcastThrottled(domain.EventLeaderboardUpdate, func() (any, error) {
				return []string{}, nil
			}, window)
		}
	}

	assert.GreaterOrEqual(t, len(em.Events(domain.EventLeaderboardUpdate)), 2)
}

func TestBroadcastThrottled_ComputeErrorSkipsBroadcast(t *testing.T) {
	reg := NewRegistry(5, nil)
	d := NewDispatcher(reg, nil, nil)
	defer d.Close()
	_, em := register(t, reg, domain.Anonymous())

	done := make(chan struct{})
	d.BroadcastThrottled(domain.EventLeaderboardUpdate, func() (any, error) {
		defer close(done)
		return nil, errors.New("leaderboard unavailable")
	}, 10*time.Millisecond)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("compute never ran")
	}
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, em.Frames())
}

func TestDispatcher_CloseCancelsPendingFlush(t *testing.T) {
	reg := NewRegistry(5, nil)
	d := NewDispatcher(reg, nil, nil)
	_, em := register(t, reg, domain.Anonymous())

	d.BroadcastThrottled(domain.EventLeaderboardUpdate, func() (any, error) {
		return "late", nil
	}, 20*time.Millisecond)
	d.Close()
	d.BroadcastThrottled(domain.EventLeaderboardUpdate, func() (any, error) {
		return "after close", nil
	}, time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, em.Frames())
}

func TestThrottle_ScheduleAfterStopNeverFires(t *testing.T) {
	var fired atomic.Int32
	th := newThrottle(domain.EventLeaderboardUpdate, func(string, func() (any, error)) {
		fired.Add(1)
	})

	th.stop()
	th.schedule(func() (any, error) { return nil, nil }, time.Millisecond)
	th.schedule(func() (any, error) { return nil, nil }, 0)

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, fired.Load())
}
