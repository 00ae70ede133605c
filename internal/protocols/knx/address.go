package knx

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// GroupAddress is a 3-level KNX group address: main (0-31), middle (0-7)
// and sub (0-255), packed into 16 bits on the wire.
type GroupAddress struct {
	Main   uint8
	Middle uint8
	Sub    uint8
}

const (
	maxMain   = 31
	maxMiddle = 7

	gaMainMask   = 0x1F
	gaMiddleMask = 0x07
	gaSubMask    = 0xFF
)

// ParseGroupAddress parses "main/middle/sub".
func ParseGroupAddress(s string) (GroupAddress, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 3 { //nolint:mnd // three address levels
		return GroupAddress{}, fmt.Errorf("%w: expected main/middle/sub, got %q", ErrInvalidGroupAddress, s)
	}

	var levels [3]uint64
	limits := [3]uint64{maxMain, maxMiddle, gaSubMask}
	for i, part := range parts {
		v, err := strconv.ParseUint(part, 10, 8)
		if err != nil || v > limits[i] {
			return GroupAddress{}, fmt.Errorf("%w: level %d must be 0-%d, got %q",
				ErrInvalidGroupAddress, i+1, limits[i], part)
		}
		levels[i] = v
	}

	return GroupAddress{
		Main:   uint8(levels[0]), //nolint:gosec // bounded above
		Middle: uint8(levels[1]), //nolint:gosec // bounded above
		Sub:    uint8(levels[2]), //nolint:gosec // bounded above
	}, nil
}

// String returns "main/middle/sub".
func (ga GroupAddress) String() string {
	return fmt.Sprintf("%d/%d/%d", ga.Main, ga.Middle, ga.Sub)
}

// ToUint16 packs the address as MMMMMIII SSSSSSSS.
func (ga GroupAddress) ToUint16() uint16 {
	return uint16(ga.Main)<<11 | uint16(ga.Middle)<<8 | uint16(ga.Sub)
}

// GroupAddressFromUint16 unpacks a wire address.
func GroupAddressFromUint16(value uint16) GroupAddress {
	return GroupAddress{
		Main:   uint8((value >> 11) & gaMainMask),  //nolint:gosec // masked to 5 bits
		Middle: uint8((value >> 8) & gaMiddleMask), //nolint:gosec // masked to 3 bits
		Sub:    uint8(value & gaSubMask),           //nolint:gosec // masked to 8 bits
	}
}

// URLEncode escapes the slashes so the address fits in one MQTT topic level.
func (ga GroupAddress) URLEncode() string {
	return url.PathEscape(ga.String())
}

// formatIndividualAddress converts a 16-bit individual address to "A.L.D".
func formatIndividualAddress(ia uint16) string {
	return fmt.Sprintf("%d.%d.%d", (ia>>12)&0x0F, (ia>>8)&0x0F, ia&0xFF)
}
