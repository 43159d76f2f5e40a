// Package mdns advertises and discovers simulated ACUs on the local network.
package mdns

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

// Service is the DNS-SD service type of the ACU command port.
const Service = "_acu._tcp"

const domain = "local."

// Host is one discovered ACU.
type Host struct {
	Instance  string
	Hostname  string
	Addresses []net.IP
	Port      int
	// StatusPort is the status stream port advertised in the TXT record, or 0.
	StatusPort int
	TXT        []string
}

// CommandAddr returns host:port for the first address of h.
func (h Host) CommandAddr() string {
	return h.addr(h.Port)
}

// StatusAddr returns host:port of the status stream, or "" if none was
// advertised.
func (h Host) StatusAddr() string {
	if h.StatusPort == 0 {
		return ""
	}
	return h.addr(h.StatusPort)
}

func (h Host) addr(port int) string {
	host := h.Hostname
	if len(h.Addresses) > 0 {
		host = h.Addresses[0].String()
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Advertise registers instance on port until the returned function is
// called. statusPort, if non-zero, is published in the TXT record.
func Advertise(instance string, port, statusPort int) (func(), error) {
	var txt []string
	if statusPort != 0 {
		txt = append(txt, fmt.Sprintf("status=%d", statusPort))
	}
	server, err := zeroconf.Register(instance, Service, domain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("registering %q: %w", instance, err)
	}
	return server.Shutdown, nil
}

// Discover browses for ACUs for the given duration and returns the
// deduplicated hosts it saw.
func Discover(ctx context.Context, timeout time.Duration) ([]Host, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("resolver error: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	resultMap := make(map[string]Host)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case e, ok := <-entries:
				if !ok {
					return
				}
				if e == nil {
					continue
				}
				h := fromEntry(e)
				resultMap[fmt.Sprintf("%s|%d", h.Hostname, h.Port)] = h
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, Service, domain, entries); err != nil {
		return nil, fmt.Errorf("browse error: %w", err)
	}

	<-done

	out := make([]Host, 0, len(resultMap))
	for _, h := range resultMap {
		out = append(out, h)
	}
	return out, nil
}

func fromEntry(e *zeroconf.ServiceEntry) Host {
	addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
	addrs = append(addrs, e.AddrIPv4...)
	addrs = append(addrs, e.AddrIPv6...)
	h := Host{
		Instance:  cleanInstance(e.Instance),
		Hostname:  e.HostName,
		Addresses: addrs,
		Port:      e.Port,
		TXT:       append([]string{}, e.Text...),
	}
	for _, t := range e.Text {
		if v, ok := strings.CutPrefix(t, "status="); ok {
			h.StatusPort, _ = strconv.Atoi(v)
		}
	}
	return h
}

// cleanInstance removes Zeroconf escape sequences: "\ " => " "
func cleanInstance(s string) string {
	return strings.ReplaceAll(s, `\ `, " ")
}
