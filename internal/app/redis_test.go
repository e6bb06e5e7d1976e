package app

import "testing"

func TestKeyCollection(t *testing.T) {
	testCases := []struct {
		args []any
		want string
	}{
		{[]any{"set", "lock:ride:42", "token"}, "lock"},
		{[]any{"get", "idempotency:u1:k1"}, "idempotency"},
		{[]any{"get", "plain"}, "plain"},
		{[]any{"ping"}, "redis"},
		{[]any{"evalsha", "abc123", 1, "lock:ride:42", "token"}, "lock"},
		{[]any{"eval", "return 1", 0}, "redis"},
		{[]any{"del", 42}, "redis"},
	}

	for _, tc := range testCases {
		if got := keyCollection(tc.args); got != tc.want {
			t.Errorf("keyCollection(%v) = %q, want %q", tc.args, got, tc.want)
		}
	}
}
