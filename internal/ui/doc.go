// Package ui provides terminal output for the roehn CLI.
//
// Most commands follow a "run once and exit" pattern built from a few
// Lipgloss components:
//
//   - Header: command banner with the processor and parameters
//   - Runner: header, progress bar for timed operations, result box
//   - Result: success, warning or failure box; failures carry
//     troubleshooting advice derived from the error
//   - Tables: processors, modules, BIOS, button cache, bridges and the
//     saved processor registry
//
// The one interactive view is the button monitor (roehn watch), a Bubble
// Tea program that follows keypad activity from the event listener:
//
//	client.StartEventListener(ctx)
//	return ui.RunMonitor(ctx, client.Host(), client)
//
// Logging is controlled by ROEHN_LOG_LEVEL. When it is unset zap stays silent
// so log lines do not tear the rendered output.
package ui
