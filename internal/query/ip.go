package query

import (
	"fmt"
	"math/bits"
	"net/netip"
	"strconv"
	"strings"

	zerrors "github.com/zenoss/zenoss-zep-sub000/internal/errors"
)

// IPRange is an inclusive address range within one family.
type IPRange struct {
	From netip.Addr
	To   netip.Addr
}

// Single reports whether the range covers exactly one address.
func (r IPRange) Single() bool {
	return r.From == r.To
}

func (r IPRange) String() string {
	if r.Single() {
		return r.From.String()
	}
	return r.From.String() + "-" + r.To.String()
}

// ParseAddress parses an IPv4 dotted quad (leading zeros allowed) or an IPv6
// address, optionally in brackets.
func ParseAddress(s string) (netip.Addr, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, ":") {
		s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
		a, err := netip.ParseAddr(s)
		if err != nil {
			return netip.Addr{}, fmt.Errorf("invalid IPv6 address %q: %w", s, err)
		}
		if a.Zone() != "" {
			return netip.Addr{}, fmt.Errorf("invalid IPv6 address %q: zones not supported", s)
		}
		return a, nil
	}
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return netip.Addr{}, fmt.Errorf("invalid IPv4 address %q", s)
	}
	var b [4]byte
	for i, p := range parts {
		if len(p) == 0 || len(p) > 3 {
			return netip.Addr{}, fmt.Errorf("invalid IPv4 address %q", s)
		}
		n, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return netip.Addr{}, fmt.Errorf("invalid IPv4 address %q", s)
		}
		b[i] = byte(n)
	}
	return netip.AddrFrom4(b), nil
}

// ParseIPRange accepts "addr/mask", "addr/bits", "from-to" or a single
// address. In "from-to" the upper bound may be abbreviated to the last
// decimal byte for IPv4 or the last two hex bytes for IPv6.
func ParseIPRange(s string) (IPRange, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '/'); i >= 0 {
		return parseMasked(s[:i], s[i+1:])
	}
	if i := strings.IndexByte(s, '-'); i >= 0 {
		return parseSpan(s[:i], s[i+1:])
	}
	a, err := ParseAddress(s)
	if err != nil {
		return IPRange{}, invalidIP(s, err)
	}
	return IPRange{From: a, To: a}, nil
}

func invalidIP(s string, err error) error {
	return zerrors.New(zerrors.ErrCodeInvalidRange, fmt.Sprintf("invalid IP range %q", s), err)
}

func parseMasked(addr, mask string) (IPRange, error) {
	a, err := ParseAddress(addr)
	if err != nil {
		return IPRange{}, invalidIP(addr+"/"+mask, err)
	}
	width := a.BitLen()

	var prefix int
	if strings.ContainsAny(mask, ".:") {
		m, err := ParseAddress(mask)
		if err != nil || m.BitLen() != width {
			return IPRange{}, invalidIP(addr+"/"+mask, fmt.Errorf("netmask family mismatch"))
		}
		prefix, err = maskBits(m.AsSlice())
		if err != nil {
			return IPRange{}, invalidIP(addr+"/"+mask, err)
		}
	} else {
		prefix, err = strconv.Atoi(mask)
		if err != nil || prefix < 0 || prefix > width {
			return IPRange{}, invalidIP(addr+"/"+mask, fmt.Errorf("prefix length out of range"))
		}
	}

	p, err := a.Prefix(prefix)
	if err != nil {
		return IPRange{}, invalidIP(addr+"/"+mask, err)
	}
	first := p.Addr()
	last := first.AsSlice()
	for i := prefix; i < width; i++ {
		last[i/8] |= 0x80 >> (i % 8)
	}
	to, _ := netip.AddrFromSlice(last)
	return IPRange{From: first, To: to}, nil
}

// maskBits counts the leading ones of a contiguous netmask.
func maskBits(mask []byte) (int, error) {
	n := 0
	seenZero := false
	for _, b := range mask {
		ones := bits.LeadingZeros8(^b)
		if seenZero && b != 0 {
			return 0, fmt.Errorf("netmask is not contiguous")
		}
		if ones < 8 {
			if b<<ones != 0 {
				return 0, fmt.Errorf("netmask is not contiguous")
			}
			seenZero = true
		}
		n += ones
	}
	return n, nil
}

func parseSpan(fromStr, toStr string) (IPRange, error) {
	orig := fromStr + "-" + toStr
	from, err := ParseAddress(fromStr)
	if err != nil {
		return IPRange{}, invalidIP(orig, err)
	}
	to, err := ParseAddress(toStr)
	if err != nil {
		to, err = abbreviatedUpper(from, strings.TrimSpace(toStr))
		if err != nil {
			return IPRange{}, invalidIP(orig, err)
		}
	}
	if from.Is4() != to.Is4() {
		return IPRange{}, invalidIP(orig, fmt.Errorf("mixed address families"))
	}
	if from.Compare(to) > 0 {
		return IPRange{}, invalidIP(orig, fmt.Errorf("lower bound exceeds upper bound"))
	}
	return IPRange{From: from, To: to}, nil
}

func abbreviatedUpper(from netip.Addr, s string) (netip.Addr, error) {
	b := from.AsSlice()
	if from.Is4() {
		n, err := strconv.ParseUint(s, 10, 8)
		if err != nil {
			return netip.Addr{}, fmt.Errorf("invalid upper bound %q", s)
		}
		b[3] = byte(n)
	} else {
		n, err := strconv.ParseUint(s, 16, 16)
		if err != nil {
			return netip.Addr{}, fmt.Errorf("invalid upper bound %q", s)
		}
		b[14] = byte(n >> 8)
		b[15] = byte(n)
	}
	a, _ := netip.AddrFromSlice(b)
	return a, nil
}

// CanonicalIP is the fixed-width, lexically sortable form of a: zero padded
// decimal octets for IPv4 and eight four-digit hex groups for IPv6.
func CanonicalIP(a netip.Addr) string {
	b := a.AsSlice()
	if a.Is4() {
		return fmt.Sprintf("%03d.%03d.%03d.%03d", b[0], b[1], b[2], b[3])
	}
	groups := make([]string, 8)
	for i := range groups {
		groups[i] = fmt.Sprintf("%04x", uint16(b[2*i])<<8|uint16(b[2*i+1]))
	}
	return strings.Join(groups, ":")
}

// HostAddress renders a without padding or IPv6 compression.
func HostAddress(a netip.Addr) string {
	b := a.AsSlice()
	if a.Is4() {
		return fmt.Sprintf("%d.%d.%d.%d", b[0], b[1], b[2], b[3])
	}
	groups := make([]string, 8)
	for i := range groups {
		groups[i] = fmt.Sprintf("%x", uint16(b[2*i])<<8|uint16(b[2*i+1]))
	}
	return strings.Join(groups, ":")
}

// IPType is IPType4 or IPType6 for a.
func IPType(a netip.Addr) string {
	if a.Is4() {
		return IPType4
	}
	return IPType6
}

// HostTokens are the index-time tokens of an address: its octets or hex groups
// in order.
func HostTokens(a netip.Addr) []string {
	if a.Is4() {
		return strings.Split(HostAddress(a), ".")
	}
	return strings.Split(HostAddress(a), ":")
}
