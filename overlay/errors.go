package overlay

import "errors"

// ErrNoContent is returned by Build when every enabled module contributed
// zero effective entries to the overlay tree. Callers should treat this as
// success (nothing to mount), not failure.
var ErrNoContent = errors.New("overlay: no module contributed any content")

// ErrNotRoot is returned when the process is not running as the root user.
var ErrNotRoot = errors.New("overlay: must run as root")

// ErrBlacklistedPartition is returned when an operator-configured extra
// partition collides with the fixed builtin-partition blacklist.
var ErrBlacklistedPartition = errors.New("overlay: partition name is blacklisted")
