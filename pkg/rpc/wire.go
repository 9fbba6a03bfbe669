package rpc

import (
	"errors"
	"fmt"
	"net/netip"
	"time"
)

var ErrInvalidIP = errors.New("rpc: ip must be empty, 4 or 16 bytes")

// EncodeTime converts t to microseconds since the Unix epoch. The zero time
// encodes as 0, which the services read as "unset".
func EncodeTime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func DecodeTime(us int64) time.Time {
	if us == 0 {
		return time.Time{}
	}
	return time.UnixMicro(us).UTC()
}

// EncodeIP returns the 4-byte form for IPv4 (including IPv4-mapped IPv6)
// and the 16-byte form otherwise. An invalid Addr encodes as nil.
func EncodeIP(ip netip.Addr) []byte {
	if !ip.IsValid() {
		return nil
	}
	ip = ip.Unmap()
	if ip.Is4() {
		b := ip.As4()
		return b[:]
	}
	b := ip.As16()
	return b[:]
}

func DecodeIP(b []byte) (netip.Addr, error) {
	switch len(b) {
	case 0:
		return netip.Addr{}, nil
	case 4, 16:
		ip, _ := netip.AddrFromSlice(b)
		return ip.Unmap(), nil
	default:
		return netip.Addr{}, fmt.Errorf("%w: got %d", ErrInvalidIP, len(b))
	}
}
