package shared

import (
	"errors"
	"fmt"
	"testing"
)

func TestSentinelErrorsAreDistinct(t *testing.T) {
	sentinels := []error{ErrNotConnected, ErrClosed}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j && errors.Is(a, b) {
				t.Errorf("sentinel %v should not match %v", a, b)
			}
		}
	}
}

func TestSentinelWrapping(t *testing.T) {
	err := fmt.Errorf("send text turn: %w", ErrNotConnected)
	if !errors.Is(err, ErrNotConnected) {
		t.Error("wrapped error should match ErrNotConnected")
	}
}

func TestNewID(t *testing.T) {
	a := NewID("msg_")
	b := NewID("msg_")
	if a == b {
		t.Error("ids should be unique")
	}
	if len(a) != len("msg_")+32 {
		t.Errorf("unexpected id length: %d", len(a))
	}
}
