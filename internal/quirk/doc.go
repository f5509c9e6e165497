// Package quirk maps device identities to per-device configuration
// overrides and applies them to devices.
//
// A quirk entry is keyed by an instance id or a GUID and holds key/value
// strings. Entries keyed by an instance id are stored under the GUID
// derived from it, so a device matches regardless of which form the file
// used.
//
// Most values are handed to the device as is. Keys marked indirect carry
// the name of a boot property instead; the resolver looks that property up
// and passes its value on, or skips the key when the property is absent.
package quirk
