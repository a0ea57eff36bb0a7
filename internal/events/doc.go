// Package events listens for keypad button events on a processor's text
// port.
//
// The processor pushes lines such as "R:BTN PRESS 42 3" to every connected
// text client. A Listener holds one long-lived connection, reconnecting after
// a fixed backoff whenever it drops, and keeps the last action and change
// time of every button it has seen:
//
//	l := events.NewListener("192.168.1.50")
//	remove := l.AddHandler(func(ev events.ButtonEvent) {
//	    fmt.Println(ev.Address, ev.Button, ev.Action)
//	})
//	l.Start(ctx)
//	defer l.Stop()
//
// State machine:
//
//	Stopped -> Connecting -> Connected -> (EOF or error) -> Backoff -> Connecting
//
// Stop interrupts whichever step is blocked and waits for the listener
// goroutine to exit. Button state survives reconnects and restarts.
package events
