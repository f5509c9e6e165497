package device

import (
	"strings"

	"github.com/google/uuid"
)

// guidNamespace scopes instance id hashing. Using the DNS namespace keeps
// GUIDs compatible with the values published by existing firmware metadata.
var guidNamespace = uuid.NameSpaceDNS

// GUIDFromString returns the GUID for an instance id.
//
// Strings that already are GUIDs are returned in canonical lowercase form;
// anything else is hashed as a version 5 (SHA-1) UUID of its UTF-8 bytes.
// The result only depends on s.
func GUIDFromString(s string) string {
	if IsGUID(s) {
		return strings.ToLower(s)
	}
	return uuid.NewSHA1(guidNamespace, []byte(s)).String()
}

// IsGUID reports whether s is a GUID in the canonical 8-4-4-4-12 form.
func IsGUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// InstanceIDBuilder derives instance ids of increasing specificity.
//
// Attributes are added in a fixed order. Build returns one instance id per
// prefix, so "BLOCK" with UUID and LABEL yields
//
//	BLOCK\UUID_E478-FA50
//	BLOCK\UUID_E478-FA50&LABEL_FWUPDATE
//
// An attribute with an empty value ends the chain: it and every attribute
// added after it are left out, while the variants before it are unchanged.
type InstanceIDBuilder struct {
	namespace string
	keys      []string
	values    []string
}

// NewInstanceIDBuilder creates a builder for the given device class token.
func NewInstanceIDBuilder(namespace string) *InstanceIDBuilder {
	return &InstanceIDBuilder{namespace: namespace}
}

// Add appends a key/value attribute and returns the builder for chaining.
func (b *InstanceIDBuilder) Add(key, value string) *InstanceIDBuilder {
	b.keys = append(b.keys, key)
	b.values = append(b.values, value)
	return b
}

// Build returns the instance ids, most general first.
func (b *InstanceIDBuilder) Build() []string {
	var ids []string
	var sb strings.Builder
	sb.WriteString(b.namespace)
	sb.WriteByte('\\')

	for i, key := range b.keys {
		value := sanitizeInstanceValue(b.values[i])
		if value == "" {
			break
		}
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(key)
		sb.WriteByte('_')
		sb.WriteString(value)
		ids = append(ids, sb.String())
	}
	return ids
}

// Apply adds every built instance id to rec in order.
func (b *InstanceIDBuilder) Apply(rec *Record) {
	for _, id := range b.Build() {
		rec.AddInstanceID(id)
	}
}

// sanitizeInstanceValue replaces characters that would break the
// NAMESPACE\KEY_value&KEY_value grammar.
func sanitizeInstanceValue(v string) string {
	v = strings.TrimSpace(v)
	return strings.Map(func(r rune) rune {
		switch r {
		case '&', '\\', ' ', '\t', '\n', '\r':
			return '-'
		}
		return r
	}, v)
}
