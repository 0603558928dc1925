// File: resolver/resolvconf.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// /etc/resolv.conf parsing: nameserver entries plus the attempts and
// timeout options. Everything else is ignored.

package resolver

import (
	"bufio"
	"io"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultTimeout  = 2 * time.Second
	defaultAttempts = 2
	dnsPort         = 53
)

// fallbackServer answers when no resolv.conf nameserver is usable
// (systemd-resolved's stub address).
var fallbackServer = netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 53}), dnsPort)

type dnsConfig struct {
	servers  []netip.AddrPort
	timeout  time.Duration
	attempts int
}

// loadConfig reads the resolver configuration at path, falling back to
// defaults when the file is missing or names no servers.
func loadConfig(path string) dnsConfig {
	cfg := dnsConfig{timeout: defaultTimeout, attempts: defaultAttempts}
	f, err := os.Open(path)
	if err == nil {
		defer f.Close()
		scanConfig(f, &cfg)
	}
	if len(cfg.servers) == 0 {
		cfg.servers = []netip.AddrPort{fallbackServer}
	}
	return cfg
}

func scanConfig(r io.Reader, cfg *dnsConfig) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' || line[0] == ';' {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "nameserver":
			if len(fields) < 2 {
				continue
			}
			// Strip a zone suffix from link-local v6 entries.
			host, _, _ := strings.Cut(fields[1], "%")
			if addr, err := netip.ParseAddr(host); err == nil {
				cfg.servers = append(cfg.servers, netip.AddrPortFrom(addr, dnsPort))
			}
		case "options":
			for _, opt := range fields[1:] {
				key, val, ok := strings.Cut(opt, ":")
				if !ok {
					continue
				}
				n, err := strconv.Atoi(val)
				if err != nil || n < 1 {
					continue
				}
				switch key {
				case "attempts":
					cfg.attempts = n
				case "timeout":
					cfg.timeout = time.Duration(n) * time.Second
				}
			}
		}
	}
}
