package scrape

import (
	"testing"
	"time"
)

func TestCheck(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		pause  bool
		cancel bool
		want   Decision
	}{
		{"clear", false, false, Continue},
		{"paused", true, false, Paused},
		{"cancelled", false, true, Cancelled},
		{"cancel dominates pause", true, true, Cancelled},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := NewControlFlags()
			if tc.pause {
				f.Pause.Set()
			}
			if tc.cancel {
				f.Cancel.Set()
			}
			if got := f.Check(); got != tc.want {
				t.Errorf("Check() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestWaitUnblocksOnResume(t *testing.T) {
	t.Parallel()

	f := NewControlFlags()
	f.Pause.Set()

	done := make(chan Decision, 1)
	go func() { done <- f.Wait() }()

	select {
	case d := <-done:
		t.Fatalf("Wait() returned %v while still paused", d)
	case <-time.After(150 * time.Millisecond):
	}

	f.Pause.Clear()
	select {
	case d := <-done:
		if d != Continue {
			t.Errorf("Wait() = %v, want Continue", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait() did not unblock after pause cleared")
	}
}

func TestWaitUnblocksOnCancel(t *testing.T) {
	t.Parallel()

	f := NewControlFlags()
	f.Pause.Set()

	done := make(chan Decision, 1)
	go func() { done <- f.Wait() }()

	f.Cancel.Set()
	select {
	case d := <-done:
		if d != Cancelled {
			t.Errorf("Wait() = %v, want Cancelled", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait() did not unblock after cancel")
	}
}

func TestFlagSharedByReference(t *testing.T) {
	t.Parallel()

	f := NewControlFlags()
	pause := f.Pause
	pause.Set()
	if f.Check() != Paused {
		t.Error("flag set through the shared pointer was not observed")
	}
}
