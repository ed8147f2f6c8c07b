package networks

import (
	"errors"
	"net"
	"strings"

	"github.com/yl2chen/cidranger"
)

var ErrInvalidNetwork = errors.New("invalid network")

// DefaultAllowed covers loopback and private ranges.
var DefaultAllowed = []string{
	"127.0.0.0/8",
	"::1/128",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"fc00::/7",
}

type entry struct {
	network net.IPNet
}

func (e entry) Network() net.IPNet {
	return e.network
}

// Allowlist decides which client addresses may use the local surface.
type Allowlist struct {
	ranger cidranger.Ranger
	any    bool
}

// NewAllowlist parses CIDRs and bare addresses. "*" allows everyone.
func NewAllowlist(networks []string) (*Allowlist, error) {
	a := &Allowlist{ranger: cidranger.NewPCTrieRanger()}
	for _, n := range networks {
		n = strings.TrimSpace(n)
		switch {
		case n == "":
			continue
		case n == "*":
			a.any = true
			continue
		case !strings.Contains(n, "/"):
			ip := net.ParseIP(n)
			if ip == nil {
				return nil, ErrInvalidNetwork
			}
			if ip.To4() != nil {
				n += "/32"
			} else {
				n += "/128"
			}
		}

		_, network, err := net.ParseCIDR(n)
		if err != nil {
			return nil, ErrInvalidNetwork
		}
		if err := a.ranger.Insert(entry{network: *network}); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Allowlist) Allowed(address string) (bool, error) {
	if a.any {
		return true, nil
	}
	ip := net.ParseIP(address)
	if ip == nil {
		return false, nil
	}
	return a.ranger.Contains(ip)
}
