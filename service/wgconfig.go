package service

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"github.com/clusterw/wgo-ui/database/model"
	"github.com/clusterw/wgo-ui/util/common"
)

// WGConfigService renders WireGuard and obfuscator configuration from
// persisted state. Rendering is deterministic: the same inputs always
// produce the same bytes, peers ordered by creation.
type WGConfigService struct{}

// TunnelSpec is the typed form of the server interface configuration,
// consumed by the tunnel controller.
type TunnelSpec struct {
	Interface  string
	Address    string
	ListenPort int
	PrivateKey string
	Peers      []TunnelPeer
}

type TunnelPeer struct {
	PublicKey  string
	AllowedIPs []string
}

// BuildTunnelSpec produces the desired device state. Disabled peers
// are omitted entirely.
func (s *WGConfigService) BuildTunnelSpec(cfg *ServerConfig, peers []model.Peer) *TunnelSpec {
	spec := &TunnelSpec{
		Interface:  cfg.WGInterface,
		Address:    fmt.Sprintf("%s/24", cfg.ServerIP()),
		ListenPort: cfg.ListenPort(),
		PrivateKey: cfg.serverPrivateKey,
	}
	for _, peer := range peers {
		if !peer.Enabled {
			continue
		}
		spec.Peers = append(spec.Peers, TunnelPeer{
			PublicKey:  peer.PublicKey,
			AllowedIPs: []string{fmt.Sprintf("%s/32", HostAddr(cfg.Subnet, peer.IP))},
		})
	}
	return spec
}

// RenderServerConfig renders the wg-quick style interface file kept on
// disk for diagnostics.
func (s *WGConfigService) RenderServerConfig(cfg *ServerConfig, peers []model.Peer) string {
	var b strings.Builder
	b.WriteString("[Interface]\n")
	fmt.Fprintf(&b, "Address = %s/24\n", cfg.ServerIP())
	fmt.Fprintf(&b, "ListenPort = %d\n", cfg.ListenPort())
	fmt.Fprintf(&b, "PrivateKey = %s\n", cfg.serverPrivateKey)
	fmt.Fprintf(&b, "PostUp = iptables -t nat -A POSTROUTING -s %s.0/24 -o %s -j MASQUERADE\n", cfg.Subnet, cfg.WANInterface)
	fmt.Fprintf(&b, "PostDown = iptables -t nat -D POSTROUTING -s %s.0/24 -o %s -j MASQUERADE\n", cfg.Subnet, cfg.WANInterface)
	for _, peer := range peers {
		if !peer.Enabled {
			continue
		}
		b.WriteString("\n")
		fmt.Fprintf(&b, "# %s\n", peer.Username)
		b.WriteString("[Peer]\n")
		fmt.Fprintf(&b, "PublicKey = %s\n", peer.PublicKey)
		fmt.Fprintf(&b, "AllowedIPs = %s/32\n", HostAddr(cfg.Subnet, peer.IP))
	}
	return b.String()
}

// RenderClientConfig renders the client-side WireGuard config. With
// obfuscation on, the endpoint is the local obfuscator and the route
// to the server's public address is carved out of the allowed IPs so
// obfuscated traffic is not swallowed by the tunnel itself.
func (s *WGConfigService) RenderClientConfig(cfg *ServerConfig, peer *model.Peer) (string, error) {
	allowed, err := peer.AllowedIPList()
	if err != nil {
		return "", common.NewErrorf("peer %q allowed IPs: %v", peer.Username, err)
	}
	endpoint := net.JoinHostPort(cfg.ExternalIP, strconv.Itoa(cfg.ExternalPort))
	if cfg.Obfuscation {
		endpoint = fmt.Sprintf("127.0.0.1:%d", clientObfuscatorPort(peer))
		if cfg.ExternalIP != "" {
			var err error
			allowed, err = excludeHostFromList(allowed, cfg.ExternalIP)
			if err != nil {
				return "", err
			}
		}
	}
	var b strings.Builder
	b.WriteString("[Interface]\n")
	fmt.Fprintf(&b, "PrivateKey = %s\n", peer.PrivateKey)
	fmt.Fprintf(&b, "Address = %s/24\n", HostAddr(cfg.Subnet, peer.IP))
	b.WriteString("\n[Peer]\n")
	fmt.Fprintf(&b, "PublicKey = %s\n", cfg.ServerPublicKey)
	fmt.Fprintf(&b, "Endpoint = %s\n", endpoint)
	fmt.Fprintf(&b, "AllowedIPs = %s\n", strings.Join(allowed, ", "))
	b.WriteString("PersistentKeepalive = 25\n")
	return b.String(), nil
}

// RenderClientObfuscatorConfig renders the config file for the
// client-side obfuscator companion process.
func (s *WGConfigService) RenderClientObfuscatorConfig(cfg *ServerConfig, peer *model.Peer) string {
	masking := cfg.MaskingType
	if !cfg.MaskingForced && peer.MaskingTypeOverride != nil {
		masking = *peer.MaskingTypeOverride
	}
	verbosity := cfg.VerbosityLevel
	if peer.VerbosityLevel != "" {
		verbosity = peer.VerbosityLevel
	}
	var b strings.Builder
	b.WriteString("[client]\n")
	fmt.Fprintf(&b, "source = 127.0.0.1:%d\n", clientObfuscatorPort(peer))
	fmt.Fprintf(&b, "target = %s\n", net.JoinHostPort(cfg.ExternalIP, strconv.Itoa(cfg.ExternalPort)))
	fmt.Fprintf(&b, "key = %s\n", cfg.ObfuscationKey)
	fmt.Fprintf(&b, "masking = %s\n", masking)
	fmt.Fprintf(&b, "verbosity = %s\n", verbosity)
	return b.String()
}

func clientObfuscatorPort(peer *model.Peer) int {
	if peer.ObfuscatorPort != nil {
		return *peer.ObfuscatorPort
	}
	return DefaultClientObfuscatorPort
}

// excludeHostFromList removes a single /32 from every prefix in the
// list that covers it, splitting the covering prefix into the minimal
// set of prefixes that route around the host.
func excludeHostFromList(list []string, host string) ([]string, error) {
	target, err := netip.ParseAddr(host)
	if err != nil {
		return nil, common.NewErrorf("invalid external address %q: %v", host, err)
	}
	hole := netip.PrefixFrom(target, target.BitLen())
	var out []string
	for _, entry := range list {
		prefix, err := netip.ParsePrefix(entry)
		if err != nil {
			return nil, common.NewErrorf("invalid CIDR %q: %v", entry, err)
		}
		for _, p := range excludePrefix(prefix, hole) {
			out = append(out, p.String())
		}
	}
	if len(out) == 0 {
		return nil, common.NewErrorf("%w: allowed IPs empty after excluding %s", ErrValidation, host)
	}
	return out, nil
}

// excludePrefix returns prefix minus hole by repeated halving.
func excludePrefix(prefix, hole netip.Prefix) []netip.Prefix {
	if !prefix.Overlaps(hole) {
		return []netip.Prefix{prefix}
	}
	if hole.Bits() <= prefix.Bits() {
		return nil
	}
	lower, upper, ok := splitPrefix(prefix)
	if !ok {
		return nil
	}
	if lower.Overlaps(hole) {
		return append(excludePrefix(lower, hole), upper)
	}
	return append([]netip.Prefix{lower}, excludePrefix(upper, hole)...)
}

func splitPrefix(prefix netip.Prefix) (netip.Prefix, netip.Prefix, bool) {
	bits := prefix.Bits() + 1
	if bits > prefix.Addr().BitLen() {
		return netip.Prefix{}, netip.Prefix{}, false
	}
	raw := prefix.Addr().AsSlice()
	// flip the new bit to get the upper half
	raw[(bits-1)/8] |= 1 << (7 - (bits-1)%8)
	upperAddr, ok := netip.AddrFromSlice(raw)
	if !ok {
		return netip.Prefix{}, netip.Prefix{}, false
	}
	return netip.PrefixFrom(prefix.Addr(), bits), netip.PrefixFrom(upperAddr, bits), true
}
