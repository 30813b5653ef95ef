// Package discovery advertises the observer endpoint over mDNS.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/hashicorp/mdns"
)

// ServiceType is the DNS-SD type livecap registers under.
const ServiceType = "_livecap._tcp"

// Config describes the advertised endpoint.
type Config struct {
	Instance string
	Port     int
	WSPath   string
	// IPs defaults to the host's non-loopback IPv4 addresses.
	IPs    []net.IP
	Logger *slog.Logger
}

// Advertise publishes the service until ctx ends.
func Advertise(ctx context.Context, cfg Config) error {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	service, err := newService(cfg)
	if err != nil {
		return err
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("start mdns responder: %w", err)
	}
	cfg.Logger.Info("advertising mdns service",
		"instance", service.Instance, "type", ServiceType, "port", cfg.Port)

	<-ctx.Done()
	if err := server.Shutdown(); err != nil {
		return fmt.Errorf("stop mdns responder: %w", err)
	}
	return nil
}

func newService(cfg Config) (*mdns.MDNSService, error) {
	if cfg.Port <= 0 {
		return nil, errors.New("mdns: port must be > 0")
	}
	instance := cfg.Instance
	if instance == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("mdns: resolve hostname: %w", err)
		}
		instance = "livecap on " + host
	}
	ips := cfg.IPs
	if len(ips) == 0 {
		var err error
		ips, err = localIPv4()
		if err != nil {
			return nil, fmt.Errorf("mdns: list interfaces: %w", err)
		}
	}
	path := cfg.WSPath
	if path == "" {
		path = "/ws"
	}

	service, err := mdns.NewMDNSService(instance, ServiceType, "", "", cfg.Port, ips, []string{"path=" + path})
	if err != nil {
		return nil, fmt.Errorf("mdns: build service: %w", err)
	}
	return service, nil
}

func localIPv4() ([]net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var ips []net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil && !ipnet.IP.IsLoopback() {
				ips = append(ips, ipnet.IP)
			}
		}
	}
	if len(ips) == 0 {
		return nil, errors.New("no non-loopback IPv4 address")
	}
	return ips, nil
}
