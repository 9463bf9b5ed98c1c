package metric

import "time"

// Unavailable marks a metadata field whose lookup failed.
const Unavailable = "unavailable"

// HostInfo is the best-effort description of the measuring machine.
type HostInfo struct {
	Hostname string        `json:"hostname"`
	IP       string        `json:"ip"`
	IPv6     string        `json:"ipv6"`
	MAC      string        `json:"mac"`
	DNS      []string      `json:"dns"`
	Gateway  Gateway       `json:"gateway"`
	System   SystemStats   `json:"system"`
	PingRTT  time.Duration `json:"ping_rtt"`
	PingHost string        `json:"ping_host"`
	Targets  []TargetGeo   `json:"targets,omitempty"`
}

// Gateway describes the interface carrying the default route.
type Gateway struct {
	Interface string `json:"interface"`
	Address   string `json:"address"`
	Wifi      string `json:"wifi"`
}

// TargetGeo is the resolved location of one download target.
type TargetGeo struct {
	Host    string `json:"host"`
	IP      string `json:"ip"`
	City    string `json:"city"`
	Country string `json:"country"`
}

// Address holds the primary addresses of the host.
type Address struct {
	IP   string
	IPv6 string
	MAC  string
}

func unavailableHost() HostInfo {
	return HostInfo{
		Hostname: Unavailable,
		IP:       Unavailable,
		IPv6:     Unavailable,
		MAC:      Unavailable,
		DNS:      []string{},
		Gateway:  Gateway{Interface: Unavailable, Address: Unavailable, Wifi: Unavailable},
		System:   unavailableSystem(),
		PingHost: Unavailable,
	}
}
