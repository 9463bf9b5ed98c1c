package metric

import (
	"fmt"

	"github.com/miekg/dns"
)

const resolvConfPath = "/etc/resolv.conf"

// HostDNS returns the nameservers configured in path, or /etc/resolv.conf when path is empty.
func HostDNS(path string) ([]string, error) {
	if path == "" {
		path = resolvConfPath
	}
	conf, err := dns.ClientConfigFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("read resolver config: %w", err)
	}
	if len(conf.Servers) == 0 {
		return nil, fmt.Errorf("no nameservers in %s", path)
	}
	servers := make([]string, len(conf.Servers))
	copy(servers, conf.Servers)
	return servers, nil
}
