// Package msc implements the USB Mass Storage Class Bulk-Only Transport
// (BOT) on top of a [device.Controller], with an embedded SCSI transparent
// command set interpreter.
//
// # Execution Model
//
// The transport is split between the controller's interrupt context and the
// firmware main loop:
//
//   - Transaction, HaltCleared, Configured, BusReset and Setup run in
//     interrupt context. They parse CBWs, move packets between endpoint
//     buffers and the current data buffer, and arm the CSW.
//   - [MSC.Task] runs from the main loop. It interprets SCSI commands and
//     makes every [Driver] call.
//
// The two sides meet in a single-slot queue of pending operations. Work
// produced in interrupt context is posted there and drained by Task; the
// transport never has more than one operation outstanding. Task and the
// [Notifier] methods enter [device.Controller.Critical] around shared state.
//
// # Bulk-Only Transport
//
// Every command is a CBW on bulk OUT, an optional data phase, and a CSW on
// bulk IN. The host's declared direction and length are checked against
// what the SCSI interpreter wants to move and the outcome is one of the
// thirteen host/device cases of Bulk-Only Transport (see [Classify]).
// Mismatches halt an endpoint and report PHASE ERROR or FAILED; the CSW
// follows once the host clears the halt.
//
// A CBW that fails validation halts both bulk endpoints. Clearing the halts
// does not recover; only Bulk-Only Mass Storage Reset does.
//
// # SCSI Commands
//
//   - TEST UNIT READY, REQUEST SENSE, INQUIRY (standard and VPD 0x00, 0x80)
//   - MODE SENSE(6), MODE SENSE(10)
//   - START STOP UNIT, PREVENT ALLOW MEDIUM REMOVAL
//   - READ FORMAT CAPACITIES, READ CAPACITY(10)
//   - READ(10), WRITE(10), VERIFY(10), SYNCHRONIZE CACHE(10)
//
// Failed commands latch sense data per LUN for the next REQUEST SENSE.
//
// # Storage
//
// A [Driver] moves data one buffer at a time through the [Notifier] the
// transport passes to StartRead and StartWrite. [BlockDriver] adapts any
// synchronous [Medium] to that handshake; [MemoryMedium] and, on Linux,
// [FileMedium] are provided.
//
// # Usage
//
//	cfg := msc.Config{InterfaceNumber: 0, BulkIn: 0x81, BulkOut: 0x02}
//	b := device.NewDescriptorBuilder().
//		WithVendorProduct(0x1209, 0x0001).
//		WithStrings("sieusb", "RAM Disk", "0001").
//		AddConfiguration(1)
//	desc, _ := msc.Describe(b, cfg).Build()
//
//	ctrl, _ := device.New(sie, desc, device.Config{DoubleBufferOut: true})
//	drv, _ := msc.NewMemoryDriver(2048)
//	msc.New(ctrl, drv, cfg)
//	ctrl.Start(ctx)
//	ctrl.Run(ctx, 0)
package msc
