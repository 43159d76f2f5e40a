package mdns

import (
	"net"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/grandcat/zeroconf"
)

func TestFromEntry(t *testing.T) {
	e := zeroconf.NewServiceEntry(`acusim\ on\ bench`, Service, "local.")
	e.HostName = "bench.local."
	e.Port = 9000
	e.Text = []string{"status=9001", "version=1"}
	e.AddrIPv4 = []net.IP{net.IPv4(192, 168, 1, 20)}

	got := fromEntry(e)
	want := Host{
		Instance:   "acusim on bench",
		Hostname:   "bench.local.",
		Addresses:  []net.IP{net.IPv4(192, 168, 1, 20)},
		Port:       9000,
		StatusPort: 9001,
		TXT:        []string{"status=9001", "version=1"},
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("fromEntry() got(-)/want(+):\n%s", diff)
	}
	if got, want := got.CommandAddr(), "192.168.1.20:9000"; got != want {
		t.Errorf("CommandAddr() = %q, want %q", got, want)
	}
	if got, want := got.StatusAddr(), "192.168.1.20:9001"; got != want {
		t.Errorf("StatusAddr() = %q, want %q", got, want)
	}
}

func TestAddrFallbacks(t *testing.T) {
	for _, test := range []struct {
		name         string
		host         Host
		command, sts string
	}{
		{"hostname only", Host{Hostname: "bench.local.", Port: 9000}, "bench.local.:9000", ""},
		{"ipv6", Host{Addresses: []net.IP{net.ParseIP("fe80::1")}, Port: 9000, StatusPort: 9001}, "[fe80::1]:9000", "[fe80::1]:9001"},
	} {
		t.Run(test.name, func(t *testing.T) {
			if got := test.host.CommandAddr(); got != test.command {
				t.Errorf("CommandAddr() = %q, want %q", got, test.command)
			}
			if got := test.host.StatusAddr(); got != test.sts {
				t.Errorf("StatusAddr() = %q, want %q", got, test.sts)
			}
		})
	}
}
