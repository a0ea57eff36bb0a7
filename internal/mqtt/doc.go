// Package mqtt bridges a Roehn processor to an MQTT broker.
//
// Topics, relative to the prefix (default "roehn"):
//
//	bridge/state              "online" / "offline" (retained, last will)
//	devices                   JSON device inventory (retained)
//	button/<addr>/<button>    {"action":"PRESS","at":"..."} per keypad event
//	load/<addr>/<ch>/set      ON, OFF, 0..100, {"level":n} or {"brightness":n}
//	shade/<addr>/<ch>/set     UP, DOWN, STOP, 0..100 or {"level":n}
//	load/<addr>/<ch>          {"level":n,"brightness":n,"confirmed":bool} (retained)
//	shade/<addr>/<ch>         same, after a shade command
//
// Addresses are control addresses (see protocol.DeviceInfo.ControlAddress).
package mqtt
