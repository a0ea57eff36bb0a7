// Package protocol implements the HSN_S-UDP binary protocol spoken by Roehn
// Wizard processors.
//
// This package is a pure codec: it builds request datagrams and decodes reply
// datagrams. It performs no I/O; the discovery package drives the sockets.
//
// # Datagram Layout
//
// Every datagram starts with the 9-byte magic header "HSN_S-UDP". Request
// bytes follow the header verbatim, there is no length prefix:
//
//	[0-8]   "HSN_S-UDP"   Magic header
//	[9]     opcode        Command (3 = discover, 4 = bios, 100 = devices, 1 = identify)
//	[10]    sub-opcode    Command qualifier (0, 9, 1, ...)
//	[11+]   arguments     Command specific
//
// Multi-byte fields are little-endian. The only exception is the CRC field of
// a device record, which is big-endian.
//
// # Messages
//
//   - Discover: header + {3,0,0,0}. Reply carries processor name, firmware
//     version, serial, network settings and MAC address.
//   - GetBios: header + {4,9,0}. Reply carries the BIOS version triple and a
//     set of capacity counters; older firmware sends shorter replies and the
//     missing counters stay at zero.
//   - GetConnectedDevices: header + {100,1,idx_lo,idx_hi,0}. Reply carries one
//     page of 40-byte device records.
//   - Identify: 28-byte request asking the module with a given serial to blink
//     (and optionally beep). The processor does not reply.
//
// # Usage Example - Parsing
//
//	info, err := protocol.ParseProcessorResponse(datagram, "192.168.1.20")
//	if err != nil {
//	    // malformed or unrelated datagram, keep listening
//	}
//
//	page, err := protocol.ParseDevicesResponse(datagram, "192.168.1.20")
//	if err == nil && !page.Final() {
//	    next := protocol.BuildGetConnectedDevices(page.NextIndex())
//	}
//
// # Control Addresses
//
// Text-protocol commands address a module by its device_id when it is a valid
// control address, and by its hsnet_id otherwise. Use DeviceInfo.ControlAddress
// (or ResolveControlAddress) instead of reading DeviceID directly.
package protocol
