package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimerSet_FiresOnce(t *testing.T) {
	ts := newTimerSet()
	ts.Arm(tagAction, 5*time.Millisecond)

	select {
	case ev := <-ts.C():
		require.Equal(t, tagAction, ev.tag)
		require.True(t, ts.live(ev))
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}

	select {
	case <-ts.C():
		t.Fatal("single-shot timer fired twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTimerSet_ArmSupersedesPrevious(t *testing.T) {
	ts := newTimerSet()

	// The first timer may fire before Stop catches it; its event must be
	// recognizable as stale either way.
	ts.Arm(tagAction, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	ts.Arm(tagAction, 5*time.Millisecond)

	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-ts.C():
			if ts.live(ev) {
				return
			}
		case <-deadline:
			t.Fatal("superseding timer never fired")
		}
	}
}

func TestTimerSet_CancelInvalidatesInFlightExpiry(t *testing.T) {
	ts := newTimerSet()
	ts.Arm(tagReclaim, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	ts.Cancel(tagReclaim)

	select {
	case ev := <-ts.C():
		require.False(t, ts.live(ev))
	default:
		// Stopped before delivery; equally fine.
	}
}

func TestTimerSet_CancelAllCoversEveryTag(t *testing.T) {
	ts := newTimerSet()
	ts.Arm(tagAction, time.Hour)
	ts.Arm(tagReclaim, time.Hour)
	ts.CancelAll()

	require.False(t, ts.live(timerEvent{tag: tagAction, gen: 1}))
	require.False(t, ts.live(timerEvent{tag: tagReclaim, gen: 1}))
}

func TestTimerSet_TagsAreIndependent(t *testing.T) {
	ts := newTimerSet()
	ts.Arm(tagAction, time.Hour)
	ts.Arm(tagReclaim, 5*time.Millisecond)

	select {
	case ev := <-ts.C():
		require.Equal(t, tagReclaim, ev.tag)
		require.True(t, ts.live(ev))
	case <-time.After(time.Second):
		t.Fatal("reclaim timer never fired")
	}

	ts.Cancel(tagReclaim)
}
