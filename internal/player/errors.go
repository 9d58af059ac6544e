/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

import "fmt"

// ChannelError reports a failed control-channel operation. Channel errors
// are always recoverable: callers decide retry and fallback policy, the
// channel never escalates them.
type ChannelError struct {
	Op     string
	Reason string
	Err    error
}

func (e *ChannelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("player channel %s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("player channel %s: %s", e.Op, e.Reason)
}

func (e *ChannelError) Unwrap() error { return e.Err }

func channelErr(op, reason string, err error) *ChannelError {
	return &ChannelError{Op: op, Reason: reason, Err: err}
}
