package ptypool

import "errors"

// ErrPoolExhausted is returned by Claim when the active-session ceiling has
// been reached and no idle handle is available.
var ErrPoolExhausted = errors.New("ptypool: max active sessions reached")

// ErrSpawnFailed is returned by Claim when an on-demand spawn could not be
// started, or timed out waiting for the shell to become ready.
var ErrSpawnFailed = errors.New("ptypool: spawn failed")

// ErrInitializationFailed is returned by Initialize when the very first
// warm-up spawn fails synchronously.
var ErrInitializationFailed = errors.New("ptypool: initialization failed")

// SpawnError wraps ErrSpawnFailed with the underlying cause.
type SpawnError struct {
	Cause error
}

func (e *SpawnError) Error() string {
	return "ptypool: spawn failed: " + e.Cause.Error()
}

func (e *SpawnError) Unwrap() error {
	return ErrSpawnFailed
}
