// Copyright 2024-2026 Aiku AI

package telegram

import (
	"errors"
	"fmt"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tgerr"

	"github.com/aiku/telegram-relay/pkg/relay"
)

var (
	errPasswordRequired   = fmt.Errorf("%w: two-factor password required", relay.ErrRejected)
	errSignUpRequired     = fmt.Errorf("%w: phone number is not registered", relay.ErrRejected)
	errUnexpectedSentCode = fmt.Errorf("%w: unexpected sent code type", relay.ErrRejected)
)

// wrapError marks errors returned by Telegram itself as rejections. Server
// side failures (5xx) stay transport errors so callers can retry them.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, auth.ErrPasswordAuthNeeded) {
		return errPasswordRequired
	}
	var signUp *auth.SignUpRequired
	if errors.As(err, &signUp) {
		return errSignUpRequired
	}
	if rpcErr, ok := tgerr.As(err); ok && rpcErr.Code < 500 {
		return fmt.Errorf("%w: %w", relay.ErrRejected, err)
	}
	return err
}
