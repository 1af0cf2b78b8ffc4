package ir

import "fmt"

// AddressFormat is the representation of a buffer resource index.
type AddressFormat uint8

const (
	// AddrNone leaves the choice to the lowering pass.
	AddrNone AddressFormat = iota
	// Addr32BitIndexOffset is (binding table index, byte offset).
	Addr32BitIndexOffset
	// Addr64BitGlobal is a plain 64-bit pointer.
	Addr64BitGlobal
	// Addr64BitBoundedGlobal is (address lo, address hi, size, offset).
	Addr64BitBoundedGlobal
)

var addrNames = [...]string{"none", "32bit-index-offset", "64bit-global", "64bit-bounded-global"}

func (f AddressFormat) String() string {
	if int(f) < len(addrNames) {
		return addrNames[f]
	}
	return fmt.Sprintf("address-format(%d)", f)
}

// NumComponents returns the width of a pointer value in this format.
func (f AddressFormat) NumComponents() uint8 {
	switch f {
	case Addr32BitIndexOffset:
		return 2
	case Addr64BitGlobal:
		return 1
	case Addr64BitBoundedGlobal:
		return 4
	}
	return 0
}

// BitSize returns the component width of a pointer value in this format.
func (f AddressFormat) BitSize() uint8 {
	if f == Addr64BitGlobal {
		return 64
	}
	return 32
}

// Is64Bit reports whether the format carries a 64-bit address.
func (f AddressFormat) Is64Bit() bool {
	return f == Addr64BitGlobal || f == Addr64BitBoundedGlobal
}

// MarshalText implements encoding.TextMarshaler.
func (f AddressFormat) MarshalText() ([]byte, error) {
	if int(f) >= len(addrNames) {
		return nil, fmt.Errorf("unknown address format %d", f)
	}
	return []byte(addrNames[f]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *AddressFormat) UnmarshalText(b []byte) error {
	for i, n := range addrNames {
		if n == string(b) {
			*f = AddressFormat(i)
			return nil
		}
	}
	return fmt.Errorf("unknown address format %q", b)
}
