package acmeutils

import "testing"

func TestKeyAuthorization(t *testing.T) {
	got := KeyAuthorization("abc123", "the-token")
	want := "the-token.abc123"
	if got != want {
		t.Fatalf("KeyAuthorization() = %q, want %q", got, want)
	}
}
