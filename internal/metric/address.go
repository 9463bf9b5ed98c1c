package metric

import (
	"context"
	"fmt"
	"net"
	"slices"

	psnet "github.com/shirou/gopsutil/v4/net"
)

// HostAddress returns the first external IPv4 and IPv6 address and the MAC of
// the interface carrying them. preferred, when non-empty, names the interface
// to look at first (normally the one holding the default route).
func HostAddress(ctx context.Context, preferred string) (Address, error) {
	ifaces, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return Address{}, fmt.Errorf("list interfaces: %w", err)
	}
	addr, ok := selectAddress(ifaces, preferred)
	if !ok {
		return Address{}, fmt.Errorf("no external interface address found")
	}
	return addr, nil
}

func selectAddress(ifaces psnet.InterfaceStatList, preferred string) (Address, bool) {
	ordered := make([]psnet.InterfaceStat, 0, len(ifaces))
	for _, iface := range ifaces {
		if iface.Name == preferred {
			ordered = append([]psnet.InterfaceStat{iface}, ordered...)
			continue
		}
		ordered = append(ordered, iface)
	}

	var result Address
	for _, iface := range ordered {
		if !slices.Contains(iface.Flags, "up") || slices.Contains(iface.Flags, "loopback") {
			continue
		}
		for _, a := range iface.Addrs {
			ip := parseInterfaceAddr(a.Addr)
			if ip == nil || ip.IsLoopback() {
				continue
			}
			if ip.To4() != nil {
				if result.IP == "" {
					result.IP = ip.String()
					result.MAC = iface.HardwareAddr
				}
			} else if result.IPv6 == "" && !ip.IsLinkLocalUnicast() {
				result.IPv6 = ip.String()
			}
		}
		if result.IP != "" && result.IPv6 != "" {
			break
		}
	}

	if result.IP == "" && result.IPv6 == "" {
		return Address{}, false
	}
	if result.IP == "" {
		result.IP = Unavailable
	}
	if result.IPv6 == "" {
		result.IPv6 = Unavailable
	}
	if result.MAC == "" {
		result.MAC = Unavailable
	}
	return result, true
}

// parseInterfaceAddr accepts both CIDR and bare address notation.
func parseInterfaceAddr(s string) net.IP {
	if ip, _, err := net.ParseCIDR(s); err == nil {
		return ip
	}
	return net.ParseIP(s)
}
