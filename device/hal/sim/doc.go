// Package sim implements a software serial interface engine for the
// hardware handoff channel in [github.com/ardnew/sieusb/device/hal].
//
// [SIE] keeps the buffer descriptors the firmware arms and completes them
// when a simulated host issues tokens. Completions are delivered to the
// registered handler on the token's goroutine with the interrupt mask held,
// so the firmware sees the same ordering it would on silicon: a completion
// never interleaves with main-loop code inside a critical section.
//
// [Host] sits on the other side of the wire. It splits transfers into
// packets, keeps its own data toggles, retries NAKed tokens and performs
// enumeration:
//
//	sie := sim.New(64)
//	ctrl, _ := device.New(sie, cfg, descs)
//	ctrl.Start(ctx)
//
//	host := sim.NewHost(sie)
//	host.Idle = ctrl.Task
//	host.Enumerate(5)
//
// Each engine carries a random instance [uuid.UUID] so that several
// simulated devices can share one log stream.
//
// The engine records every transaction once [SIE.Trace] is called, which is
// how tests assert packet counts, lengths and toggles.
package sim
