// Package discovery talks to Roehn Wizard processors over HSN_S-UDP.
//
// A Session performs request/reply exchanges with one known processor:
//
//	s := discovery.NewSession("192.168.1.50")
//	info, err := s.QueryProcessorInfo(ctx)
//	bios, err := s.QueryBiosInfo(ctx)
//	devices, err := s.QueryDevices(ctx)
//
// A Scanner finds processors by broadcasting discover requests and, when a
// subnet is configured, by sweeping every host of that subnet:
//
//	scanner := discovery.NewScanner()
//	scanner.Subnet = "192.168.51.0/24"
//	processors, err := scanner.Discover(ctx)
//
// # Failure Model
//
// UDP is unreliable, so silence is never an error: a query with no valid
// reply returns nil, and enumeration returns the pages that did arrive.
// Malformed datagrams and replies from other hosts are skipped while the
// wait continues. Errors are only returned when a socket cannot be opened
// or used, or when the context is cancelled.
//
// # mDNS
//
// Bridges started with "roehn serve" announce themselves as _roehn._tcp so
// other tools can find the event feed without knowing its address.
package discovery
