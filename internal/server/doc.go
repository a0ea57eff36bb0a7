// Package server publishes a processor's keypad events over HTTP.
//
// Routes:
//
//	GET /ws/events    WebSocket feed; a "hello" message with the session id
//	                  and current button states, then one "button" message
//	                  per event
//	GET /api/buttons  JSON array of cached button states
//	GET /healthz      listener state; 503 while not connected to the processor
//
// Feed clients that cannot keep up are disconnected. With Config.Advertise
// the feed is announced over mDNS as _roehn._tcp so "roehn bridges" can
// find it.
package server
