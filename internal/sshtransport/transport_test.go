package sshtransport

import (
	"context"
	"testing"
	"time"
)

func TestOptionsWithDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	if o.Port != 22 {
		t.Errorf("Port = %d, want 22", o.Port)
	}
	if o.ConnectTimeout.Seconds() != 10 {
		t.Errorf("ConnectTimeout = %v, want 10s", o.ConnectTimeout)
	}

	custom := Options{Port: 2222}.withDefaults()
	if custom.Port != 2222 {
		t.Errorf("explicit Port overridden: got %d, want 2222", custom.Port)
	}
}

func TestItoa(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{0, "0"},
		{22, "22"},
		{2222, "2222"},
		{9, "9"},
	}
	for _, tt := range tests {
		if got := itoa(tt.n); got != tt.want {
			t.Errorf("itoa(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestProbeSshUnreachableHost(t *testing.T) {
	// 192.0.2.0/24 is TEST-NET-1 (RFC 5737), guaranteed unroutable.
	err := ProbeSsh(context.Background(), "192.0.2.1", "postgres", Options{
		ConnectTimeout: 50 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("expected an error connecting to a reserved test-net address")
	}
}
