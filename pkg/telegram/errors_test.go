// Copyright 2024-2026 Aiku AI

package telegram

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tgerr"

	"github.com/aiku/telegram-relay/pkg/relay"
)

func TestWrapError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		rejected bool
	}{
		{"invalid code", tgerr.New(400, "PHONE_CODE_INVALID"), true},
		{"flood wait", tgerr.New(420, "FLOOD_WAIT_30"), true},
		{"wrapped rpc error", fmt.Errorf("invoke: %w", tgerr.New(400, "PEER_ID_INVALID")), true},
		{"server error", tgerr.New(500, "INTERNAL"), false},
		{"network error", errors.New("connection reset by peer"), false},
		{"password needed", auth.ErrPasswordAuthNeeded, true},
		{"sign up required", &auth.SignUpRequired{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := wrapError(tt.err)
			if errors.Is(got, relay.ErrRejected) != tt.rejected {
				t.Errorf("wrapError(%v): rejected = %v, want %v", tt.err, !tt.rejected, tt.rejected)
			}
		})
	}
	if wrapError(nil) != nil {
		t.Error("wrapError(nil) should be nil")
	}
}

func TestWrapErrorKeepsRPCError(t *testing.T) {
	t.Parallel()
	got := wrapError(tgerr.New(400, "PHONE_CODE_EXPIRED"))
	if !tgerr.Is(got, "PHONE_CODE_EXPIRED") {
		t.Errorf("wrapped error should still match its RPC type, got %v", got)
	}
}
