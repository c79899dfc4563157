package hal

// Word is the control word of a buffer descriptor shared with the hardware.
//
//	bits 0-9   byte count
//	bit  12    data toggle (0 = DATA0, 1 = DATA1)
//	bit  13    stall
//	bit  15    owner (1 = hardware)
//
// Only the current owner may change a word; ownership flips exactly once per
// transaction.
type Word uint32

// Control word fields.
const (
	WordCountMask Word = 0x03FF
	WordToggle    Word = 1 << 12
	WordStall     Word = 1 << 13
	WordOwner     Word = 1 << 15
)

// MaxByteCount is the largest byte count a descriptor can carry.
const MaxByteCount = int(WordCountMask)

// ByteCount returns the byte count field.
func (w Word) ByteCount() int {
	return int(w & WordCountMask)
}

// WithByteCount returns w with the byte count replaced. n is clamped to
// [0, MaxByteCount].
func (w Word) WithByteCount(n int) Word {
	if n < 0 {
		n = 0
	}
	if n > MaxByteCount {
		n = MaxByteCount
	}
	return w&^WordCountMask | Word(n)
}

// Toggle reports whether the word selects DATA1.
func (w Word) Toggle() bool {
	return w&WordToggle != 0
}

// WithToggle returns w with the toggle set to DATA1 when data1 is true.
func (w Word) WithToggle(data1 bool) Word {
	if data1 {
		return w | WordToggle
	}
	return w &^ WordToggle
}

// Stall reports whether the stall bit is set.
func (w Word) Stall() bool {
	return w&WordStall != 0
}

// WithStall returns w with the stall bit set or cleared.
func (w Word) WithStall(stall bool) Word {
	if stall {
		return w | WordStall
	}
	return w &^ WordStall
}

// HardwareOwned reports whether the hardware currently owns the descriptor.
func (w Word) HardwareOwned() bool {
	return w&WordOwner != 0
}

// WithOwner returns w handed to the hardware (true) or the firmware (false).
func (w Word) WithOwner(hardware bool) Word {
	if hardware {
		return w | WordOwner
	}
	return w &^ WordOwner
}

// NewWord builds a firmware-owned word with the given count and toggle.
func NewWord(count int, data1 bool) Word {
	return Word(0).WithByteCount(count).WithToggle(data1)
}
