// Package backend resolves server profiles into protocol servers.
//
// A Registry maps the comm tag of a profile (serial, tcp, tls, udp) to a
// server constructor and the framer tag (ascii, binary, rtu, socket, tls) to
// a framer. Resolve validates both tags without side effects; Build decodes
// the transport options and constructs the server. No socket or device is
// opened until Prepare or ServeForever is called.
//
// Servers stop when the context passed to ServeForever is cancelled. They
// release their listener, close every client connection and wait for the
// connection goroutines before returning ctx.Err().
package backend
