package device

// Flag describes a capability or requirement of a device.
// Flags are stored as a set on the Record in insertion order.
type Flag string

// Flag constants.
const (
	// FlagUpdatable marks a device that can receive firmware.
	FlagUpdatable Flag = "updatable"

	// FlagUnsignedPayload marks a device that accepts payloads without a vendor signature.
	FlagUnsignedPayload Flag = "unsigned-payload"

	// FlagRequireAC marks a device that must only be updated on external power.
	FlagRequireAC Flag = "require-ac"

	// FlagInternal marks a device that cannot be removed from the host.
	FlagInternal Flag = "internal"

	// FlagNeedsReboot marks a device that only runs new firmware after a reboot.
	FlagNeedsReboot Flag = "needs-reboot"

	// FlagCanVerifyImage marks a device whose firmware can be read back.
	FlagCanVerifyImage Flag = "can-verify-image"
)

// AllFlags returns all valid flag values.
func AllFlags() []Flag {
	return []Flag{
		FlagUpdatable,
		FlagUnsignedPayload,
		FlagRequireAC,
		FlagInternal,
		FlagNeedsReboot,
		FlagCanVerifyImage,
	}
}

// VersionFormat describes how a version string should be interpreted.
type VersionFormat string

// VersionFormat constants.
const (
	VersionFormatUnknown VersionFormat = ""
	VersionFormatPlain   VersionFormat = "plain"
	VersionFormatNumber  VersionFormat = "number"
	VersionFormatPair    VersionFormat = "pair"
	VersionFormatTriplet VersionFormat = "triplet"
	VersionFormatQuad    VersionFormat = "quad"
	VersionFormatBCD     VersionFormat = "bcd"
	VersionFormatHex     VersionFormat = "hex"
)

// AllVersionFormats returns all valid, non-unknown version formats.
func AllVersionFormats() []VersionFormat {
	return []VersionFormat{
		VersionFormatPlain,
		VersionFormatNumber,
		VersionFormatPair,
		VersionFormatTriplet,
		VersionFormatQuad,
		VersionFormatBCD,
		VersionFormatHex,
	}
}

// UnknownVersion is assigned by setup when no authoritative version can be
// read, so the device still surfaces as updatable.
const UnknownVersion = "0.0.UNKNOWN"

// Pre-computed validation sets for O(1) lookups.
var (
	validFlags          map[Flag]struct{}
	validVersionFormats map[VersionFormat]struct{}
)

func init() {
	validFlags = make(map[Flag]struct{}, len(AllFlags()))
	for _, f := range AllFlags() {
		validFlags[f] = struct{}{}
	}

	validVersionFormats = make(map[VersionFormat]struct{}, len(AllVersionFormats()))
	for _, f := range AllVersionFormats() {
		validVersionFormats[f] = struct{}{}
	}
}

// ValidFlag reports whether f is a known flag.
func ValidFlag(f Flag) bool {
	_, ok := validFlags[f]
	return ok
}

// ParseVersionFormat converts a quirk or config string to a VersionFormat.
// The second return value is false when the string is not recognised.
func ParseVersionFormat(s string) (VersionFormat, bool) {
	f := VersionFormat(s)
	_, ok := validVersionFormats[f]
	return f, ok
}
