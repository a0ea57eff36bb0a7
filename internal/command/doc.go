// Package command drives a processor's line-oriented text command port.
//
// Every command opens a fresh TCP connection, writes one CRLF-terminated
// line, and collects reply lines for a short window:
//
//	ch := command.NewChannel("192.168.1.50")
//	level, ok, err := ch.SetLoad(ctx, 1201, 2, 80)
//	pos, err := ch.ShadeSet(ctx, 1201, 1, 50)
//
// The port also carries unsolicited traffic, so replies are matched on
// verb, device address and channel. A missing reply is reported through the
// ok result rather than an error; errors are reserved for connection
// failures and invalid arguments and are classified as *Error values.
package command
