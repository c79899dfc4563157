// Package device implements the firmware side of a full-speed USB device on
// top of a buffer-descriptor serial interface engine.
//
// It talks to hardware only through the [hal.Channel] interface defined in
// [github.com/ardnew/sieusb/device/hal]: packets are handed to the SIE by
// arming buffer descriptors, and completions come back as events.
//
// # Architecture
//
//   - [Controller] owns the channel, the endpoint [Directory], the control
//     session, the device state and the registered class drivers
//   - [Controller.HandleEvent] is the interrupt-context entry point
//   - [Controller.Task] runs deferred class work from the main loop
//   - [Descriptors] holds the pre-encoded chapter-9 descriptor table
//   - [ClassDriver] is implemented by USB classes
//
// # Control transfers
//
// Endpoint 0 runs one [ControlSession] at a time. A request handler answers
// a SETUP with exactly one of [Controller.StartControlReturn],
// [Controller.StartReceive], [Controller.Acknowledge] or
// [Controller.StallControl]. The engine chunks data into packets, inserts
// the terminating zero-length packet when the host asked for more than the
// device returns, runs the status stage and calls the request's callback
// exactly once. A new SETUP aborts whatever session is in progress.
//
// # Interrupt and main-loop context
//
// Everything reached from HandleEvent runs with the transaction-complete
// interrupt masked. Main-loop code that touches the same state enters a
// critical section:
//
//	defer c.Critical().Exit()
//
// # Example
//
//	desc, _ := device.NewDescriptorBuilder().
//	    WithVendorProduct(0xCAFE, 0x4000).
//	    WithStrings("Acme", "Disk", "0001").
//	    AddConfiguration(1).
//	    AddInterface(device.ClassMassStorage, 0x06, 0x50).
//	    AddEndpoint(0x81, device.EndpointTypeBulk, 64).
//	    AddEndpoint(0x02, device.EndpointTypeBulk, 64).
//	    Build()
//	ctrl, _ := device.New(sie, desc, device.Config{})
//	ctrl.Register(disk)
//	ctrl.Start(ctx)
//	ctrl.Run(ctx, 0)
package device
