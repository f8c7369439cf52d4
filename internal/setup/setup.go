package setup

import (
	"bytes"
	"fmt"
	"maps"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Default profile selections, matching the defaults of the setup file shipped
// with the simulator.
const (
	DefaultSetupFile = "setup.json"
	DefaultServer    = "server"
	DefaultDevice    = "device"
)

// Document is a parsed setup file. It is immutable after Load.
//
// Profiles are kept as raw nodes and interpreted only when selected, so an
// incomplete profile that is never selected does not fail the document.
type Document struct {
	servers map[string]yaml.Node
	devices map[string]yaml.Node
}

// document is the on-disk layout of a setup file.
type document struct {
	Servers map[string]yaml.Node `yaml:"server_list"`
	Devices map[string]yaml.Node `yaml:"device_list"`
}

// ServerProfile describes how to construct one protocol server.
type ServerProfile struct {
	// Name is the key of the profile in server_list.
	Name string

	// Comm selects the transport backend (serial, tcp, tls, udp).
	Comm string

	// Framer selects the message framer (ascii, binary, rtu, socket, tls).
	Framer string

	// Options holds the remaining transport keyword parameters (host, port,
	// baudrate, certfile, ...). They are interpreted by the selected backend.
	Options map[string]any
}

// DeviceProfile is an opaque device description, decoded by the datastore.
type DeviceProfile struct {
	// Name is the key of the profile in device_list.
	Name string

	node yaml.Node
}

// Load reads and parses a setup document.
//
// Parameters:
//   - path: Path to a JSON or YAML setup file
//
// Returns:
//   - *Document: Parsed document with both profile collections present
//   - error: Wrapping ErrConfig if the file is missing, unreadable or malformed
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading setup file: %w", ErrConfig, err)
	}

	var raw document
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parsing setup file %s: %w", ErrConfig, path, err)
	}

	if raw.Servers == nil {
		return nil, fmt.Errorf("%w: %s: server_list is missing", ErrConfig, path)
	}
	if raw.Devices == nil {
		return nil, fmt.Errorf("%w: %s: device_list is missing", ErrConfig, path)
	}
	return &Document{servers: raw.Servers, devices: raw.Devices}, nil
}

// ServerNames returns the profile names of server_list, sorted.
func (d *Document) ServerNames() []string {
	return slices.Sorted(maps.Keys(d.servers))
}

// DeviceNames returns the profile names of device_list, sorted.
func (d *Document) DeviceNames() []string {
	return slices.Sorted(maps.Keys(d.devices))
}

// Server interprets the named server profile. Every call decodes afresh,
// so callers may consume the options without changing the document.
func (d *Document) Server(name string) (ServerProfile, error) {
	node, ok := d.servers[name]
	if !ok {
		return ServerProfile{}, fmt.Errorf("%w: server %q not in server_list (have %v)",
			ErrConfig, name, d.ServerNames())
	}
	p, err := decodeServer(&node)
	if err != nil {
		return ServerProfile{}, fmt.Errorf("%w: server %q: %w", ErrConfig, name, err)
	}
	p.Name = name
	return p, nil
}

// Device returns the named device profile.
func (d *Document) Device(name string) (DeviceProfile, error) {
	node, ok := d.devices[name]
	if !ok {
		return DeviceProfile{}, fmt.Errorf("%w: device %q not in device_list (have %v)",
			ErrConfig, name, d.DeviceNames())
	}
	if node.Kind != yaml.MappingNode {
		return DeviceProfile{}, fmt.Errorf("%w: device %q: expected a mapping, got %s", ErrConfig, name, nodeKind(&node))
	}
	return DeviceProfile{Name: name, node: node}, nil
}

// Select returns the named server and device profiles.
func (d *Document) Select(server, device string) (ServerProfile, DeviceProfile, error) {
	srv, err := d.Server(server)
	if err != nil {
		return ServerProfile{}, DeviceProfile{}, err
	}
	dev, err := d.Device(device)
	if err != nil {
		return ServerProfile{}, DeviceProfile{}, err
	}
	return srv, dev, nil
}

// decodeServer splits the comm and framer selectors from the transport options.
func decodeServer(node *yaml.Node) (ServerProfile, error) {
	if node.Kind != yaml.MappingNode {
		return ServerProfile{}, fmt.Errorf("expected a mapping, got %s", nodeKind(node))
	}
	var raw map[string]any
	if err := node.Decode(&raw); err != nil {
		return ServerProfile{}, err
	}
	if raw == nil {
		raw = map[string]any{}
	}

	comm, err := popString(raw, "comm")
	if err != nil {
		return ServerProfile{}, err
	}
	framer, err := popString(raw, "framer")
	if err != nil {
		return ServerProfile{}, err
	}
	return ServerProfile{Comm: comm, Framer: framer, Options: raw}, nil
}

// DecodeOptions decodes the transport options into out, rejecting keys out
// does not declare.
func (p ServerProfile) DecodeOptions(out any) error {
	return decodeStrict(p.Options, out)
}

// Decode decodes the device description into out, rejecting keys out does
// not declare.
func (p DeviceProfile) Decode(out any) error {
	if p.node.Kind == 0 {
		return fmt.Errorf("%w: device %q is empty", ErrConfig, p.Name)
	}
	return decodeStrict(&p.node, out)
}

// popString removes a required string key from raw.
func popString(raw map[string]any, key string) (string, error) {
	v, ok := raw[key]
	if !ok {
		return "", fmt.Errorf("%q is required", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%q must be a non-empty string", key)
	}
	delete(raw, key)
	return s, nil
}

// decodeStrict round-trips v through YAML so the decoder can reject unknown
// fields, which yaml.Node.Decode cannot do.
func decodeStrict(v any, out any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encoding options: %w", ErrConfig, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return nil
}

func nodeKind(n *yaml.Node) string {
	switch n.Kind {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "document"
	}
}
