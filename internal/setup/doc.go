// Package setup loads the simulator setup document.
//
// The setup document names every server and device profile the simulator
// can run:
//
//	{
//	  "server_list": {
//	    "server": {"comm": "tcp", "framer": "socket", "host": "0.0.0.0", "port": 5020}
//	  },
//	  "device_list": {
//	    "device": {"setup": {"hr_size": 100}, "registers": [...]}
//	  }
//	}
//
// The file is parsed with gopkg.in/yaml.v3, and JSON is a subset of YAML, so
// setup.json and setup.yaml files are both accepted.
//
// A server profile carries two required selectors (comm and framer) plus an
// open set of transport keyword options that this package passes through
// untouched. A device profile is opaque here; the datastore package decodes it.
//
// Every failure in this package wraps ErrConfig.
package setup
