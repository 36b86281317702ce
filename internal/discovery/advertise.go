package discovery

import (
	"fmt"
	"net"
	"strings"

	"github.com/hashicorp/mdns"

	"github.com/simfleet/simfleet/internal/config"
	"github.com/simfleet/simfleet/internal/model"
)

// Advertise announces this machine agent on the LAN under the fleet service
// type. The caller shuts the returned server down on exit.
func Advertise(cfg config.Config, identity model.MachineIdentity, games []string) (*mdns.Server, error) {
	if identity.Port <= 0 {
		return nil, fmt.Errorf("invalid port for mDNS advertisement: %d", identity.Port)
	}
	instance := fmt.Sprintf("%s-%d", identity.Name, identity.ID)
	txtRecords := []string{
		fmt.Sprintf("name=%s", identity.Name),
		fmt.Sprintf("id=%d", identity.ID),
		"status=idle",
		fmt.Sprintf("games=%s", strings.Join(games, ",")),
	}
	var ips []net.IP
	if ip := net.ParseIP(identity.IP); ip != nil {
		ips = []net.IP{ip}
	}
	service, err := mdns.NewMDNSService(instance, cfg.ServiceType, "", "", identity.Port, ips, txtRecords)
	if err != nil {
		return nil, fmt.Errorf("mdns service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("mdns server: %w", err)
	}
	return server, nil
}

// LocalIP finds the address this host uses to reach the LAN. No packets are
// sent; the dial only selects a route.
func LocalIP() (string, error) {
	conn, err := net.Dial("udp", "192.168.1.1:80")
	if err != nil {
		conn, err = net.Dial("udp", "8.8.8.8:80")
		if err != nil {
			return "", fmt.Errorf("determine local ip: %w", err)
		}
	}
	defer conn.Close() //nolint:errcheck
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("unexpected local addr type %T", conn.LocalAddr())
	}
	return addr.IP.String(), nil
}
