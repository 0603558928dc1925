// File: resolver/hosts.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// /etc/hosts lookup, consulted before any query goes on the wire so names
// like localhost resolve without a nameserver.

package resolver

import (
	"bufio"
	"io"
	"net/netip"
	"os"
	"strings"
)

// lookupHosts scans the hosts file at path for name. A missing or
// unreadable file resolves nothing.
func lookupHosts(path, name string) []netip.Addr {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	return scanHosts(f, name)
}

func scanHosts(r io.Reader, name string) []netip.Addr {
	name = strings.TrimSuffix(strings.ToLower(name), ".")
	var addrs []netip.Addr
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		addr, err := netip.ParseAddr(fields[0])
		if err != nil {
			continue
		}
		for _, alias := range fields[1:] {
			if strings.ToLower(alias) == name {
				addrs = append(addrs, addr)
				break
			}
		}
	}
	return addrs
}
