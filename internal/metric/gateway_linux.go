//go:build linux

package metric

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vishvananda/netlink"
)

const sysClassNet = "/sys/class/net"

type gatewayResult struct {
	gw  Gateway
	err error
}

// DefaultGateway finds the interface holding the IPv4 default route. It returns
// ctx.Err() when ctx ends before the netlink lookup does.
func DefaultGateway(ctx context.Context) (Gateway, error) {
	if err := ctx.Err(); err != nil {
		return Gateway{}, err
	}
	done := make(chan gatewayResult, 1)
	go func() {
		gw, err := lookupGateway()
		done <- gatewayResult{gw: gw, err: err}
	}()
	select {
	case res := <-done:
		return res.gw, res.err
	case <-ctx.Done():
		return Gateway{}, ctx.Err()
	}
}

func lookupGateway() (Gateway, error) {
	routes, err := netlink.RouteList(nil, netlink.FAMILY_V4)
	if err != nil {
		return Gateway{}, fmt.Errorf("RouteList: %w", err)
	}

	for _, r := range routes {
		if r.Dst != nil && !r.Dst.IP.IsUnspecified() {
			continue
		}
		if r.Gw == nil {
			continue
		}
		link, err := netlink.LinkByIndex(r.LinkIndex)
		if err != nil {
			return Gateway{}, fmt.Errorf("LinkByIndex(%d): %w", r.LinkIndex, err)
		}
		name := link.Attrs().Name
		return Gateway{
			Interface: name,
			Address:   r.Gw.String(),
			Wifi:      wifiState(sysClassNet, name),
		}, nil
	}
	return Gateway{}, errors.New("no default route")
}

// wifiState reports whether iface is a wireless device according to sysfs.
func wifiState(root, iface string) string {
	if _, err := os.Stat(filepath.Join(root, iface)); err != nil {
		return Unavailable
	}
	if _, err := os.Stat(filepath.Join(root, iface, "wireless")); err == nil {
		return "yes"
	}
	return "no"
}
