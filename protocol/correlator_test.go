package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/babylon-markets/a2a/types"
)

func TestCorrelatorResolveMatchesPending(t *testing.T) {
	c := NewCorrelator(time.Second)

	id, ch := c.Track()
	if id != 1 {
		t.Errorf("first id = %d, want 1", id)
	}

	resp, err := types.NewResult(id, map[string]bool{"ok": true})
	if err != nil {
		t.Fatalf("NewResult: %v", err)
	}
	if !c.Resolve(resp) {
		t.Fatal("Resolve returned false for a tracked id")
	}

	select {
	case res := <-ch:
		if res.Err != nil {
			t.Errorf("unexpected error: %v", res.Err)
		}
		if res.Response == nil || res.Response.ID != id {
			t.Errorf("wrong response delivered: %+v", res.Response)
		}
	case <-time.After(time.Second):
		t.Fatal("result never delivered")
	}

	if c.Pending() != 0 {
		t.Errorf("pending = %d after resolve, want 0", c.Pending())
	}
}

func TestCorrelatorIDsAreMonotonic(t *testing.T) {
	c := NewCorrelator(time.Second)
	var last uint64
	for i := 0; i < 100; i++ {
		id, _ := c.Track()
		if id <= last {
			t.Fatalf("id %d not greater than previous %d", id, last)
		}
		last = id
	}
}

func TestCorrelatorTimeout(t *testing.T) {
	c := NewCorrelator(20 * time.Millisecond)

	id, ch := c.Track()

	select {
	case res := <-ch:
		if !errors.Is(res.Err, ErrTimeout) {
			t.Errorf("err = %v, want ErrTimeout", res.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout never fired")
	}

	// The entry is gone; a late response for that id is discarded.
	resp, _ := types.NewResult(id, "late")
	if c.Resolve(resp) {
		t.Error("late response matched an entry that should have been removed")
	}
	if c.Pending() != 0 {
		t.Errorf("pending = %d, want 0", c.Pending())
	}
}

func TestCorrelatorFailAllOnDisconnect(t *testing.T) {
	c := NewCorrelator(time.Minute)

	chans := make([]<-chan Result, 0, 5)
	for i := 0; i < 5; i++ {
		_, ch := c.Track()
		chans = append(chans, ch)
	}

	c.FailAll(ErrDisconnected)

	for i, ch := range chans {
		select {
		case res := <-ch:
			if !errors.Is(res.Err, ErrDisconnected) {
				t.Errorf("request %d: err = %v, want ErrDisconnected", i, res.Err)
			}
		case <-time.After(time.Second):
			t.Fatalf("request %d never rejected", i)
		}
	}
	if c.Pending() != 0 {
		t.Errorf("pending = %d after FailAll, want 0", c.Pending())
	}
}

func TestCorrelatorExactlyOnceDelivery(t *testing.T) {
	c := NewCorrelator(10 * time.Millisecond)

	// Race the timeout against a resolve; exactly one Result must arrive.
	id, ch := c.Track()
	resp, _ := types.NewResult(id, "raced")
	c.Resolve(resp)

	var delivered int
	deadline := time.After(100 * time.Millisecond)
	for {
		select {
		case <-ch:
			delivered++
		case <-deadline:
			if delivered != 1 {
				t.Errorf("delivered %d results, want exactly 1", delivered)
			}
			return
		}
	}
}
