package recorder

import "errors"

var (
	// ErrConfiguration is returned for invalid construction parameters.
	ErrConfiguration = errors.New("invalid recorder configuration")
	// ErrNotFound is returned by Restore when there is no persisted snapshot.
	ErrNotFound = errors.New("snapshot not found")
	// ErrCorruptSnapshot is returned by Restore when the persisted snapshot
	// exists but can't be turned into a window.
	ErrCorruptSnapshot = errors.New("corrupt snapshot")
	// ErrChannelMismatch is returned by Record when the sample's channels
	// differ from the store's channel set. The window is left unchanged.
	ErrChannelMismatch = errors.New("sample channels do not match store")
	// ErrInvalidSample is returned by Record when a value is NaN or
	// infinite. The window is left unchanged.
	ErrInvalidSample = errors.New("invalid sample value")
	// ErrPersistence is returned by Record when the snapshot could not be
	// written. The in-memory window still includes the sample.
	ErrPersistence = errors.New("failed to persist snapshot")
	// ErrNotReady is returned when a Store was not built by New or Restore.
	ErrNotReady = errors.New("recorder not initialized")
)
