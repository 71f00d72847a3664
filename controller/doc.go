// Package controller is the remote side of the device protocol.
//
// A Controller subscribes to every device under a topic prefix and keeps a
// DeviceStore from the retained announces, the status messages and the
// port traffic. Invoke publishes a device.command with a fresh request id
// and waits for the observation carrying the same id on the device's events
// topic; it gives up with a "timeout" observation at the deadline. SetPort
// writes an InPort through ports/set.
//
// A Router forwards OutPort readings to InPorts on other devices, applying
// an optional Transform on the way:
//
//	routes:
//	  - source: dev-A1B2C3/impact_live
//	    target: dev-D4E5F6/var_a
//	    transform: {map_from: [1, 100], map_to: [0, 1]}
//
// A device is reported online while its last online status is younger than
// the stale threshold (DefaultStaleAfter).
package controller
