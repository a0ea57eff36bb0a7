// Package resources reads the driver metadata shipped with Roehn Wizard.
//
// Module drivers describe the slots of a module model (relay, dimmer, key,
// sensor, shade) and so which channels of a discovered device accept load
// and shade commands. Keypad drivers give the button count of keypad models.
// The metadata is optional: everything in the client works without it.
//
// Drivers are read from a Wizard installation ("Resources/Drivers/Modules"
// and "Resources/Drivers/Keypads") or from JSON bundle files written by
// Index.WriteBundle:
//
//	idx, err := resources.LoadIndex("/opt/roehn/Resources")
//	if err != nil {
//		return err
//	}
//	if m, ok := idx.Module(dev.Model, dev.ExtendedModel, dev.DevModel); ok {
//		fmt.Println(m.Channels(resources.SlotDimmer))
//	}
package resources
