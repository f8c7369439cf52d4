package setup

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const validSetup = `{
  "server_list": {
    "server": {
      "comm": "tcp",
      "framer": "socket",
      "host": "127.0.0.1",
      "port": 5020
    },
    "rtu over serial": {
      "comm": "serial",
      "framer": "rtu",
      "port": "/dev/ttyUSB0",
      "baudrate": 9600
    }
  },
  "device_list": {
    "device": {
      "setup": {"hr_size": 10},
      "registers": [{"addr": 0, "type": "uint16", "value": 7}]
    }
  }
}`

func writeSetup(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "setup.json")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write setup file: %v", err)
	}
	return path
}

func TestLoad_Valid(t *testing.T) {
	doc, err := Load(writeSetup(t, validSetup))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got := doc.ServerNames(); len(got) != 2 || got[0] != "rtu over serial" || got[1] != "server" {
		t.Errorf("ServerNames() = %v, want [rtu over serial server]", got)
	}
	if got := doc.DeviceNames(); len(got) != 1 || got[0] != "device" {
		t.Errorf("DeviceNames() = %v, want [device]", got)
	}

	srv, err := doc.Server("server")
	if err != nil {
		t.Fatalf("Server() error = %v", err)
	}
	if srv.Name != "server" {
		t.Errorf("Name = %q, want %q", srv.Name, "server")
	}
	if srv.Comm != "tcp" || srv.Framer != "socket" {
		t.Errorf("Comm/Framer = %q/%q, want tcp/socket", srv.Comm, srv.Framer)
	}
	if _, ok := srv.Options["comm"]; ok {
		t.Error("Options still contains comm selector")
	}
	if srv.Options["host"] != "127.0.0.1" {
		t.Errorf("Options[host] = %v, want 127.0.0.1", srv.Options["host"])
	}
	if srv.Options["port"] != 5020 {
		t.Errorf("Options[port] = %v (%T), want 5020", srv.Options["port"], srv.Options["port"])
	}
}

func TestLoad_YAML(t *testing.T) {
	content := `
server_list:
  server:
    comm: udp
    framer: socket
device_list:
  device:
    setup:
      hr_size: 4
`
	doc, err := Load(writeSetup(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	srv, err := doc.Server("server")
	if err != nil {
		t.Fatalf("Server() error = %v", err)
	}
	if srv.Comm != "udp" {
		t.Errorf("Comm = %q, want udp", srv.Comm)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "invalid syntax", content: `{"server_list": [`},
		{name: "empty file", content: ``},
		{name: "missing server_list", content: `{"device_list": {"device": {}}}`},
		{name: "missing device_list", content: `{"server_list": {"server": {"comm": "tcp", "framer": "socket"}}}`},
		{name: "server_list not a mapping", content: `{"server_list": [1], "device_list": {}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeSetup(t, tt.content))
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !errors.Is(err, ErrConfig) {
				t.Errorf("Load() error = %v, want ErrConfig", err)
			}
		})
	}
}

func TestLoad_UnselectedProfilesNotParsed(t *testing.T) {
	content := `{
  "server_list": {
    "server": {"comm": "tcp", "framer": "socket", "port": 5020},
    "draft": {"comm": "serial"},
    "broken": [1, 2]
  },
  "device_list": {
    "device": {"setup": {"hr_size": 4}},
    "scratch": "todo"
  }
}`
	doc, err := Load(writeSetup(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	srv, dev, err := doc.Select("server", "device")
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if srv.Comm != "tcp" || dev.Name != "device" {
		t.Errorf("Select() = %q/%q, want tcp/device", srv.Comm, dev.Name)
	}

	if _, _, err := doc.Select("draft", "device"); !errors.Is(err, ErrConfig) {
		t.Errorf("Select(draft) error = %v, want ErrConfig", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/setup.json")
	if !errors.Is(err, ErrConfig) {
		t.Errorf("Load() error = %v, want ErrConfig", err)
	}
}

func TestSelect(t *testing.T) {
	doc, err := Load(writeSetup(t, validSetup))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	srv, dev, err := doc.Select("server", "device")
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if srv.Name != "server" || dev.Name != "device" {
		t.Errorf("Select() = %q/%q, want server/device", srv.Name, dev.Name)
	}

	// Consuming the returned options must not change the document.
	delete(srv.Options, "host")
	again, err := doc.Server("server")
	if err != nil {
		t.Fatalf("Server() error = %v", err)
	}
	if _, ok := again.Options["host"]; !ok {
		t.Error("Select() returned options shared with the document")
	}
}

func TestSelect_Errors(t *testing.T) {
	content := `{
  "server_list": {
    "server": {"comm": "tcp", "framer": "socket"},
    "no comm": {"framer": "socket"},
    "no framer": {"comm": "tcp"},
    "numeric comm": {"comm": 5, "framer": "socket"},
    "list": ["tcp"]
  },
  "device_list": {
    "device": {"setup": {"hr_size": 4}},
    "list": [1, 2]
  }
}`
	doc, err := Load(writeSetup(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name   string
		server string
		device string
	}{
		{name: "unknown server", server: "nope", device: "device"},
		{name: "unknown device", server: "server", device: "nope"},
		{name: "both unknown", server: "", device: ""},
		{name: "missing comm", server: "no comm", device: "device"},
		{name: "missing framer", server: "no framer", device: "device"},
		{name: "non-string comm", server: "numeric comm", device: "device"},
		{name: "server not a mapping", server: "list", device: "device"},
		{name: "device not a mapping", server: "server", device: "list"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := doc.Select(tt.server, tt.device)
			if !errors.Is(err, ErrConfig) {
				t.Errorf("Select(%q, %q) error = %v, want ErrConfig", tt.server, tt.device, err)
			}
		})
	}
}

func TestServerProfile_DecodeOptions(t *testing.T) {
	type tcpOptions struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	}

	p := ServerProfile{Options: map[string]any{"host": "0.0.0.0", "port": 502}}
	var opts tcpOptions
	if err := p.DecodeOptions(&opts); err != nil {
		t.Fatalf("DecodeOptions() error = %v", err)
	}
	if opts.Host != "0.0.0.0" || opts.Port != 502 {
		t.Errorf("DecodeOptions() = %+v", opts)
	}

	p.Options["baudrate"] = 9600
	if err := p.DecodeOptions(&opts); !errors.Is(err, ErrConfig) {
		t.Errorf("DecodeOptions() with unknown key error = %v, want ErrConfig", err)
	}
}

func TestDeviceProfile_Decode(t *testing.T) {
	doc, err := Load(writeSetup(t, validSetup))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	var out struct {
		Setup struct {
			HRSize int `yaml:"hr_size"`
		} `yaml:"setup"`
		Registers []map[string]any `yaml:"registers"`
	}
	dev, err := doc.Device("device")
	if err != nil {
		t.Fatalf("Device() error = %v", err)
	}
	if err := dev.Decode(&out); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if out.Setup.HRSize != 10 {
		t.Errorf("hr_size = %d, want 10", out.Setup.HRSize)
	}
	if len(out.Registers) != 1 {
		t.Errorf("len(registers) = %d, want 1", len(out.Registers))
	}

	var empty DeviceProfile
	if err := empty.Decode(&out); !errors.Is(err, ErrConfig) {
		t.Errorf("Decode() on empty profile error = %v, want ErrConfig", err)
	}
}
