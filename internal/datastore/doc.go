// Package datastore simulates the register space of one Modbus device.
//
// A Device is built from a device profile of the setup document:
//
//	"device": {
//	  "setup": {"co_size": 16, "hr_size": 100, "shared_blocks": false},
//	  "invalid": {"hr": [[90, 99]]},
//	  "write": {"hr": [0, [10, 19]], "co": [[0, 15]]},
//	  "registers": [
//	    {"addr": 0, "type": "uint16", "value": 17},
//	    {"addr": 2, "type": "uint32", "value": 70000, "action": "increment"},
//	    {"addr": 4, "type": "float32", "value": 21.5, "action": "random", "min": 18, "max": 25},
//	    {"table": "co", "addr": 3, "type": "bits", "value": true}
//	  ],
//	  "repeat": [{"addr": [0, 4], "to": [50, 59]}]
//	}
//
// Tables are co (coils), di (discrete inputs), hr (holding registers) and ir
// (input registers). With shared_blocks, ir aliases hr and di aliases co.
// Only addresses named in write accept writes; addresses named in invalid
// answer with an illegal data address exception.
//
// Actions run each time a register is read over the protocol: the built-in
// actions are increment, random, reset, timestamp and uptime, and callers may
// supply more through an ActionTable.
//
// ServerContext wraps a Device for the protocol servers: it decodes request
// PDUs (function codes 1-6, 15, 16 and 23) and encodes responses or
// exceptions.
//
// Thread Safety: Device and ServerContext are safe for concurrent use.
package datastore
