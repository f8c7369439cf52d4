package mqtt

import "strings"

// DefaultTopicPrefix is the root of every simulator topic.
const DefaultTopicPrefix = "modsim"

// Topics builds the topic names of one simulator instance.
//
// Layout:
//
//	<prefix>/<instance>/status           retained online/offline state (LWT)
//	<prefix>/<instance>/event/<kind>     lifecycle events
//	<prefix>/<instance>/stats            request counters
//	<prefix>/<instance>/command/<name>   commands to the simulator
type Topics struct {
	Prefix   string
	Instance string
}

// NewTopics returns the topic builder for an instance. An empty prefix
// falls back to DefaultTopicPrefix.
func NewTopics(prefix, instance string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix, Instance: instance}
}

func (t Topics) root() string {
	prefix := t.Prefix
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return prefix + "/" + t.Instance
}

// Status returns the retained status topic.
func (t Topics) Status() string {
	return t.root() + "/status"
}

// Event returns the topic for a lifecycle event kind.
func (t Topics) Event(kind string) string {
	return t.root() + "/event/" + kind
}

// Stats returns the request statistics topic.
func (t Topics) Stats() string {
	return t.root() + "/stats"
}

// Command returns the topic for a named command.
func (t Topics) Command(name string) string {
	return t.root() + "/command/" + name
}

// AllCommands returns the wildcard matching every command of the instance.
func (t Topics) AllCommands() string {
	return t.root() + "/command/+"
}

// AllInstances returns the wildcard matching the status of every instance
// under the prefix.
func (t Topics) AllInstances() string {
	prefix := t.Prefix
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return prefix + "/+/status"
}

// CommandName extracts the command name from a command topic, or "" when
// the topic is not a command of this instance.
func (t Topics) CommandName(topic string) string {
	name, ok := strings.CutPrefix(topic, t.root()+"/command/")
	if !ok || strings.Contains(name, "/") {
		return ""
	}
	return name
}
