// Package client is the entry point for talking to a Roehn Wizard processor.
//
// A Client combines the UDP discovery session (processor, BIOS and device
// queries), the text command channel (load and shade control) and the event
// listener (keypad buttons) for one processor host:
//
//	c, err := client.New(client.DefaultConfig("192.168.1.50"))
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//
//	snap, err := c.Refresh(ctx)
//	...
//	c.SetDeviceLoad(ctx, snap.Devices[0], 1, 75)
//
// Device commands must be addressed with DeviceInfo.ControlAddress; the
// *Device helpers do that for you.
package client
