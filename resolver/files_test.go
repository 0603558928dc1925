// File: resolver/files_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package resolver

import (
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const hostsFixture = `
# static entries
127.0.0.1   localhost
::1         localhost ip6-localhost
192.0.2.10  db.internal db  # trailing comment
not-an-addr broken
`

func TestScanHostsMatchesAliases(t *testing.T) {
	addrs := scanHosts(strings.NewReader(hostsFixture), "LOCALHOST")
	require.Equal(t, []netip.Addr{
		netip.MustParseAddr("127.0.0.1"),
		netip.MustParseAddr("::1"),
	}, addrs)

	addrs = scanHosts(strings.NewReader(hostsFixture), "db")
	require.Equal(t, []netip.Addr{netip.MustParseAddr("192.0.2.10")}, addrs)

	require.Empty(t, scanHosts(strings.NewReader(hostsFixture), "missing"))
	require.Empty(t, scanHosts(strings.NewReader(hostsFixture), "broken"))
}

func TestScanConfigParsesServersAndOptions(t *testing.T) {
	cfg := dnsConfig{timeout: defaultTimeout, attempts: defaultAttempts}
	scanConfig(strings.NewReader(`
# comment
; also a comment
nameserver 192.0.2.53
nameserver fe80::1%eth0
search example.com
options attempts:3 timeout:1 ndots:2
`), &cfg)

	require.Equal(t, []netip.AddrPort{
		netip.AddrPortFrom(netip.MustParseAddr("192.0.2.53"), 53),
		netip.AddrPortFrom(netip.MustParseAddr("fe80::1"), 53),
	}, cfg.servers)
	require.Equal(t, 3, cfg.attempts)
	require.Equal(t, time.Second, cfg.timeout)
}

func TestLoadConfigFallsBack(t *testing.T) {
	cfg := loadConfig("/does/not/exist")
	require.Equal(t, []netip.AddrPort{fallbackServer}, cfg.servers)
	require.Equal(t, defaultAttempts, cfg.attempts)
	require.Equal(t, defaultTimeout, cfg.timeout)
}
