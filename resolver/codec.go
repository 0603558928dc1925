// File: resolver/codec.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Minimal DNS wire codec: one-question queries and address extraction from
// replies. Compression pointers are skipped, not followed; only A and AAAA
// answer records are consumed.

package resolver

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"strings"

	"github.com/momentics/coreloop/api"
)

const (
	typeA    uint16 = 1
	typeAAAA uint16 = 28
	classIN  uint16 = 1

	headerLen   = 12
	maxNameLen  = 255
	maxLabelLen = 63

	rcodeNoError  = 0
	rcodeServFail = 2
	rcodeNXDomain = 3
)

// errServFail marks a retryable server-side failure; every other decode
// error is hard.
var errServFail = fmt.Errorf("%w: server failure", api.ErrResolution)

func malformed(what string) error {
	return fmt.Errorf("%w: malformed reply: %s", api.ErrResolution, what)
}

// buildQuery encodes a recursion-desired query for name with the given
// record type.
func buildQuery(id uint16, name string, qtype uint16) ([]byte, error) {
	name = strings.TrimSuffix(strings.ToLower(name), ".")
	if name == "" || len(name) > maxNameLen {
		return nil, fmt.Errorf("%w: invalid name %q", api.ErrResolution, name)
	}
	msg := make([]byte, headerLen, headerLen+len(name)+6)
	binary.BigEndian.PutUint16(msg[0:], id)
	binary.BigEndian.PutUint16(msg[2:], 0x0100) // RD
	binary.BigEndian.PutUint16(msg[4:], 1)      // QDCOUNT
	for _, label := range strings.Split(name, ".") {
		if label == "" || len(label) > maxLabelLen {
			return nil, fmt.Errorf("%w: invalid label in %q", api.ErrResolution, name)
		}
		msg = append(msg, byte(len(label)))
		msg = append(msg, label...)
	}
	msg = append(msg, 0)
	msg = binary.BigEndian.AppendUint16(msg, qtype)
	msg = binary.BigEndian.AppendUint16(msg, classIN)
	return msg, nil
}

// skipName advances past an encoded name starting at i, handling the
// terminal compression pointer form.
func skipName(msg []byte, i int) (int, error) {
	for hops := 0; hops <= maxNameLen; hops++ {
		if i >= len(msg) {
			return 0, malformed("name runs past the end")
		}
		b := msg[i]
		switch {
		case b == 0:
			return i + 1, nil
		case b&0xc0 == 0xc0:
			if i+2 > len(msg) {
				return 0, malformed("truncated compression pointer")
			}
			return i + 2, nil
		case b&0xc0 != 0:
			return 0, malformed("reserved label type")
		default:
			i += 1 + int(b)
		}
	}
	return 0, malformed("name label loop")
}

// parseReply validates the reply for id and extracts A/AAAA answers.
// A server-failure rcode comes back as errServFail so the caller can try
// another nameserver; NXDOMAIN and structural damage are final.
func parseReply(msg []byte, id uint16) ([]netip.Addr, error) {
	if len(msg) < headerLen {
		return nil, malformed("short header")
	}
	if binary.BigEndian.Uint16(msg[0:]) != id {
		return nil, malformed("transaction id mismatch")
	}
	flags := binary.BigEndian.Uint16(msg[2:])
	if flags&0x8000 == 0 {
		return nil, malformed("not a response")
	}
	switch rcode := flags & 0x000f; rcode {
	case rcodeNoError:
	case rcodeServFail:
		return nil, errServFail
	case rcodeNXDomain:
		return nil, fmt.Errorf("%w: no such host", api.ErrResolution)
	default:
		return nil, fmt.Errorf("%w: rcode %d", api.ErrResolution, rcode)
	}
	qd := int(binary.BigEndian.Uint16(msg[4:]))
	an := int(binary.BigEndian.Uint16(msg[6:]))

	i := headerLen
	var err error
	for q := 0; q < qd; q++ {
		if i, err = skipName(msg, i); err != nil {
			return nil, err
		}
		i += 4 // qtype + qclass
	}

	var addrs []netip.Addr
	for a := 0; a < an; a++ {
		if i, err = skipName(msg, i); err != nil {
			return nil, err
		}
		if i+10 > len(msg) {
			return nil, malformed("truncated record header")
		}
		rtype := binary.BigEndian.Uint16(msg[i:])
		rdlen := int(binary.BigEndian.Uint16(msg[i+8:]))
		i += 10
		if i+rdlen > len(msg) {
			return nil, malformed("truncated rdata")
		}
		switch {
		case rtype == typeA && rdlen == 4:
			addrs = append(addrs, netip.AddrFrom4([4]byte(msg[i:i+4])))
		case rtype == typeAAAA && rdlen == 16:
			addrs = append(addrs, netip.AddrFrom16([16]byte(msg[i:i+16])))
		}
		i += rdlen
	}
	return addrs, nil
}
