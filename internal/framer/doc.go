// Package framer delimits Modbus application data units on a byte stream.
//
// Five framings are supported, matching the framer names a setup file may
// select:
//
//   - socket: MBAP header (transaction, protocol, length, unit) + PDU
//   - tls: bare PDU, as used by Modbus/TCP Security
//   - rtu: unit + PDU + CRC-16/Modbus
//   - ascii: ':' + hex(unit, PDU, LRC) + CRLF
//   - binary: '{' + unit + PDU + CRC + '}', with brace bytes doubled
//
// Framers decode requests and encode responses; they are used by the server
// side only. A Framer holds no per-connection state, so one value may be
// shared by every connection of a server.
package framer
