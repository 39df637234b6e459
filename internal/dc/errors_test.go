package dc

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// TestAuthenticationError_Error verifies error message formatting
func TestAuthenticationError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AuthenticationError
		want string
	}{
		{
			name: "with underlying error",
			err:  &AuthenticationError{Client: "deluge", Operation: "auth.login", Err: errors.New("bad password")},
			want: "deluge authentication failed during auth.login: bad password",
		},
		{
			name: "without underlying error",
			err:  &AuthenticationError{Client: "transmission", Operation: "torrent-get"},
			want: "transmission authentication failed during torrent-get",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestNetworkError_Error verifies error message formatting
func TestNetworkError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *NetworkError
		want string
	}{
		{
			name: "with HTTP status code",
			err:  &NetworkError{Client: "deluge", Operation: "core.pause_torrent", StatusCode: 502, Message: "bad gateway"},
			want: "deluge request core.pause_torrent failed (HTTP 502): bad gateway",
		},
		{
			name: "without HTTP status code",
			err:  &NetworkError{Client: "transmission", Operation: "torrent-add", Message: "connection refused"},
			want: "transmission request torrent-add failed: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestInvalidDescriptorError_Unwrap verifies the cause is reachable
func TestInvalidDescriptorError_Unwrap(t *testing.T) {
	cause := errors.New("unexpected EOF")
	err := &InvalidDescriptorError{TaskID: "abc", Reason: "invalid bencode structure", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the underlying cause")
	}

	if got, want := err.Error(), "invalid descriptor for abc: invalid bencode structure"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

// TestIsFatal verifies which errors abort a pass
func TestIsFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"authentication", &AuthenticationError{Client: "deluge", Operation: "auth.login"}, true},
		{"wrapped authentication", fmt.Errorf("listing: %w", &AuthenticationError{Client: "deluge"}), true},
		{"network", &NetworkError{Client: "transmission", Operation: "torrent-get"}, true},
		{"context canceled", fmt.Errorf("call: %w", context.Canceled), true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"rpc error", &RPCError{Client: "deluge", Operation: "core.pause_torrent", Message: "unknown torrent"}, false},
		{"invalid descriptor", &InvalidDescriptorError{TaskID: "abc", Reason: "missing info"}, false},
		{"no tasks", ErrNoTasks, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFatal(tt.err); got != tt.want {
				t.Errorf("IsFatal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTask_HasActivePeers(t *testing.T) {
	if (&Task{Peers: 0}).HasActivePeers() {
		t.Error("task without peers reported active")
	}

	if !(&Task{Peers: 2}).HasActivePeers() {
		t.Error("task with peers reported idle")
	}
}

func TestDescriptor_Base64(t *testing.T) {
	d := &Descriptor{TaskID: "abc", Raw: []byte("d4:infod4:name3:fooee")}

	if got, want := d.Base64(), "ZDQ6aW5mb2Q0Om5hbWUzOmZvb2Vl"; got != want {
		t.Errorf("Base64() = %q, want %q", got, want)
	}

	if d.Size() != 21 {
		t.Errorf("Size() = %d, want 21", d.Size())
	}
}
