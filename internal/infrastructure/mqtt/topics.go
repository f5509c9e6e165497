package mqtt

import "strings"

// DefaultTopicPrefix is used when the configuration leaves the prefix empty.
const DefaultTopicPrefix = "fwupd"

// Topics builds the topics of one daemon instance.
//
// Every topic lives below {prefix}/{node} so several hosts can share a
// broker:
//
//	fwupd/host-a/status
//	fwupd/host-a/device/3f5c.../state-changed
//	fwupd/host-a/command/rescan
type Topics struct {
	Prefix string
	Node   string
}

// NewTopics returns a builder for prefix and node. An empty prefix falls
// back to DefaultTopicPrefix.
func NewTopics(prefix, node string) Topics {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: strings.TrimSuffix(prefix, "/"), Node: node}
}

func (t Topics) base() string {
	prefix := t.Prefix
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	if t.Node == "" {
		return prefix
	}
	return prefix + "/" + sanitizeLevel(t.Node)
}

// Status returns the retained daemon status topic, also used for the LWT.
//
// Example: fwupd/host-a/status
func (t Topics) Status() string {
	return t.base() + "/status"
}

// DeviceEvent returns the topic lifecycle events of kind are published on.
//
// Example: fwupd/host-a/device/3f5c.../progress
func (t Topics) DeviceEvent(deviceID, kind string) string {
	return t.base() + "/device/" + sanitizeLevel(deviceID) + "/" + sanitizeLevel(kind)
}

// AllDeviceEvents returns the wildcard matching every device event.
func (t Topics) AllDeviceEvents() string {
	return t.base() + "/device/#"
}

// Command returns the topic a named command is received on.
//
// Example: fwupd/host-a/command/rescan
func (t Topics) Command(name string) string {
	return t.base() + "/command/" + sanitizeLevel(name)
}

// AllCommands returns the wildcard matching every command topic.
func (t Topics) AllCommands() string {
	return t.base() + "/command/+"
}

// CommandName extracts the command name from a topic built by Command.
// It returns false for topics outside this node's command tree.
func (t Topics) CommandName(topic string) (string, bool) {
	name, ok := strings.CutPrefix(topic, t.base()+"/command/")
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}

// DeviceID extracts the device id from a topic built by DeviceEvent.
func (t Topics) DeviceID(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.base()+"/device/")
	if !ok {
		return "", false
	}
	id, _, ok := strings.Cut(rest, "/")
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// sanitizeLevel keeps a value inside a single topic level.
func sanitizeLevel(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#':
			return '_'
		}
		return r
	}, s)
}
