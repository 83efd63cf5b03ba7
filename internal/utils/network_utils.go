package utils

import (
	"net"
	"strings"
)

// Interface name fragments of VPN and tunnel adapters (OpenVPN, WireGuard,
// PPP, Cloudflare WARP).
var tunnelNames = []string{"tun", "tap", "wg", "ppp", "warp"}

// cgnatBlock is 100.64.0.0/10, used by carrier NAT, Tailscale and WARP.
var cgnatBlock = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

// ShouldForceRelay reports whether the host looks like it sits behind a VPN
// or carrier-grade NAT, where direct media paths usually fail and TURN is
// the only way through.
func ShouldForceRelay() bool {
	_, restricted := RestrictedInterface()
	return restricted
}

// RestrictedInterface returns the first up, non-loopback interface that is
// a tunnel or carries a CGNAT address.
func RestrictedInterface() (string, bool) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "", false
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if IsTunnelName(iface.Name) {
			return iface.Name, true
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if IsCGNAT(ip) {
				return iface.Name, true
			}
		}
	}

	return "", false
}

// IsTunnelName matches common VPN adapter names.
func IsTunnelName(name string) bool {
	name = strings.ToLower(name)
	for _, frag := range tunnelNames {
		if strings.Contains(name, frag) {
			return true
		}
	}
	return false
}

// IsCGNAT reports whether ip is in 100.64.0.0/10.
func IsCGNAT(ip net.IP) bool {
	return ip != nil && cgnatBlock.Contains(ip)
}
