package config

import "fmt"

// CurrentVersion is the config format version this build writes and
// understands. Parse stamps it onto files that omit the field, so
// ValidateVersion only ever sees explicit values.
const CurrentVersion = 1

// Mismatch reasons surfaced through VersionError.Reason.
const (
	reasonInvalid  = "not a recognized version"
	reasonOutdated = "outdated"
	reasonTooNew   = "newer than this build"
)

// VersionError reports a config file whose version field this build
// cannot honor.
type VersionError struct {
	Version int
	Current int
	Reason  string
}

func (e *VersionError) Error() string {
	if e == nil {
		return ""
	}
	switch e.Reason {
	case reasonTooNew:
		return fmt.Sprintf("config version %d is %s (current: %d), upgrade vibe to continue", e.Version, e.Reason, e.Current)
	case reasonOutdated:
		return fmt.Sprintf("config version %d is %s (current: %d), update the version field", e.Version, e.Reason, e.Current)
	}
	return fmt.Sprintf("config version %d is %s (current: %d)", e.Version, e.Reason, e.Current)
}

// ValidateVersion checks that a config file version is one this build
// can load.
func ValidateVersion(version int) error {
	switch {
	case version <= 0:
		return &VersionError{Version: version, Current: CurrentVersion, Reason: reasonInvalid}
	case version < CurrentVersion:
		return &VersionError{Version: version, Current: CurrentVersion, Reason: reasonOutdated}
	case version > CurrentVersion:
		return &VersionError{Version: version, Current: CurrentVersion, Reason: reasonTooNew}
	}
	return nil
}
