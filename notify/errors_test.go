package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ""},
		{"not yet available", ErrNotYetAvailable, ClassNotYetAvailable},
		{"wrapped not yet available", fmt.Errorf("video x: %w", ErrNotYetAvailable), ClassNotYetAvailable},
		{"explicit class", WithClass(ClassPersistence, errors.New("disk full")), ClassPersistence},
		{"net error", &net.DNSError{Err: "no such host", IsTimeout: true}, ClassTransientAPI},
		{"deadline", context.DeadlineExceeded, ClassTransientAPI},
		{"unknown defaults transient", errors.New("upstream 502"), ClassTransientAPI},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Classify(c.err); got != c.want {
				t.Errorf("Classify = %q, want %q", got, c.want)
			}
		})
	}
}

func TestWithClassNil(t *testing.T) {
	if WithClass(ClassHandshake, nil) != nil {
		t.Error("WithClass(nil) should stay nil")
	}
}
