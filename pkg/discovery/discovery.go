// Package discovery advertises whiteboard servers on the local network over
// mDNS and finds them from clients.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/mdns"
)

const ServiceType = "_whiteboard._tcp"

var ErrNoServer = errors.New("no whiteboard server found")

type Advertiser struct {
	server *mdns.Server
	logger *slog.Logger
}

func newService(instance string, port int, ips []net.IP) (*mdns.MDNSService, error) {
	if instance == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("could not get hostname: %w", err)
		}
		instance = host
	}
	service, err := mdns.NewMDNSService(instance, ServiceType, "", "", port, ips, []string{"whiteboard"})
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS service: %w", err)
	}
	return service, nil
}

// Advertise announces a server listening on port until Shutdown. An empty
// instance uses the hostname.
func Advertise(instance string, port int, logger *slog.Logger) (*Advertiser, error) {
	if logger == nil {
		logger = slog.Default()
	}
	service, err := newService(instance, port, []net.IP{firstIPv4()})
	if err != nil {
		return nil, err
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to start mDNS server: %w", err)
	}
	logger.Info("advertising", "instance", service.Instance, "service", ServiceType, "port", port)
	return &Advertiser{server: server, logger: logger}, nil
}

func (a *Advertiser) Shutdown() error {
	a.logger.Info("stopped advertising")
	return a.server.Shutdown()
}

// Browse returns the base url of the first server that answers within
// timeout.
func Browse(ctx context.Context, timeout time.Duration) (string, error) {
	entries := make(chan *mdns.ServiceEntry, 8)
	params := mdns.DefaultParams(ServiceType)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true

	queried := make(chan error, 1)
	go func() {
		queried <- mdns.Query(params)
	}()
	for {
		select {
		case e := <-entries:
			if u, ok := entryURL(e); ok {
				return u, nil
			}
		case err := <-queried:
			if err != nil {
				return "", fmt.Errorf("mDNS query failed: %w", err)
			}
			return "", ErrNoServer
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func entryURL(e *mdns.ServiceEntry) (string, bool) {
	if e == nil || e.AddrV4 == nil || e.Port == 0 {
		return "", false
	}
	return "http://" + net.JoinHostPort(e.AddrV4.String(), strconv.Itoa(e.Port)), true
}

func firstIPv4() net.IP {
	ifaces, _ := net.Interfaces()
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, _ := iface.Addrs()
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				return ipnet.IP.To4()
			}
		}
	}
	return net.IPv4(127, 0, 0, 1)
}
