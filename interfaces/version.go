package interfaces

import "context"

// VersionDetector probes the server once per connection for its protocol
// capability level. Detection failure is not fatal: Version falls back to
// the most conservative supported level.
type VersionDetector interface {
	Detect(ctx context.Context) (string, error)
	IsDetected() bool
	// Version returns the detected version, or the conservative default
	// when detection has not succeeded.
	Version() string
}
