// Package hal defines the hardware handoff channel between the firmware core
// and a USB serial interface engine (SIE).
//
// The SIE runs transactions on its own: the firmware fills a buffer,
// describes it in a buffer descriptor, and flips the descriptor's owner bit
// to the hardware. When the host completes a transaction against it, the
// hardware writes back the byte count and toggle, clears the owner bit and
// raises a transaction-complete interrupt. The firmware sees that interrupt
// as an [Event] delivered to its [Handler].
//
// # Buffer descriptors
//
// A descriptor's control word is a plain integer, [Word], with accessor
// methods for each field:
//
//	w := hal.NewWord(64, true)        // 64 bytes, DATA1
//	ch.Arm(1, hal.In, 0, buf, w)      // owner bit set by Arm
//
// # Concurrency
//
// Handlers run in interrupt context with the transaction-complete interrupt
// masked. Main-loop code that shares state with a handler brackets its
// accesses with [Channel.Mask] and [Channel.Unmask].
//
// A software SIE for tests and host simulation is available in
// [github.com/ardnew/sieusb/device/hal/sim].
package hal
