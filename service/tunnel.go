package service

import (
	"net"
	"os"
	"path/filepath"

	"github.com/clusterw/wgo-ui/config"
	"github.com/clusterw/wgo-ui/logger"
	"github.com/clusterw/wgo-ui/util/common"
	"github.com/vishvananda/netlink"
	"golang.zx2c4.com/wireguard/wgctrl"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

type wgLink struct {
	attrs *netlink.LinkAttrs
}

func (l *wgLink) Attrs() *netlink.LinkAttrs { return l.attrs }
func (l *wgLink) Type() string              { return "wireguard" }

// TunnelStatus is the observed state of the kernel interface.
type TunnelStatus struct {
	Up         bool   `json:"up"`
	ListenPort int    `json:"listenPort"`
	PeerCount  int    `json:"peerCount"`
	Error      string `json:"error,omitempty"`
}

// TunnelService drives the kernel WireGuard device through netlink and
// the wgctrl socket. Apply is idempotent: it diffs the live device
// against the desired state and only sends the difference.
type TunnelService struct{}

// Apply brings the interface to the desired state and writes the
// rendered config file next to it for operators.
func (s *TunnelService) Apply(spec *TunnelSpec, rendered string) error {
	if err := s.writeConfigFile(spec.Interface, rendered); err != nil {
		logger.Warning("write interface config file:", err)
	}
	if err := s.ensureLink(spec.Interface, spec.Address); err != nil {
		return common.NewErrorf("%w: interface %s: %v", ErrApply, spec.Interface, err)
	}
	if err := s.configureDevice(spec); err != nil {
		return common.NewErrorf("%w: configure %s: %v", ErrApply, spec.Interface, err)
	}
	return nil
}

func (s *TunnelService) writeConfigFile(iface string, rendered string) error {
	path := config.GetWGConfigPath(iface)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(rendered), 0o600)
}

func (s *TunnelService) ensureLink(iface string, address string) error {
	link, err := netlink.LinkByName(iface)
	if err != nil {
		if _, notFound := err.(netlink.LinkNotFoundError); !notFound {
			return err
		}
		attrs := netlink.NewLinkAttrs()
		attrs.Name = iface
		link = &wgLink{attrs: &attrs}
		if err := netlink.LinkAdd(link); err != nil {
			return err
		}
		link, err = netlink.LinkByName(iface)
		if err != nil {
			return err
		}
	}
	addr, err := netlink.ParseAddr(address)
	if err != nil {
		return err
	}
	existing, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return err
	}
	present := false
	for _, a := range existing {
		if a.Equal(*addr) {
			present = true
			continue
		}
		if err := netlink.AddrDel(link, &a); err != nil {
			logger.Warning("remove stale address", a.String(), "from", iface, "failed:", err)
		}
	}
	if !present {
		if err := netlink.AddrAdd(link, addr); err != nil {
			return err
		}
	}
	return netlink.LinkSetUp(link)
}

func (s *TunnelService) configureDevice(spec *TunnelSpec) error {
	wg, err := wgctrl.New()
	if err != nil {
		return err
	}
	defer wg.Close()

	key, err := wgtypes.ParseKey(spec.PrivateKey)
	if err != nil {
		return err
	}
	port := spec.ListenPort
	cfg := wgtypes.Config{
		PrivateKey: &key,
		ListenPort: &port,
	}

	desired := make(map[wgtypes.Key]wgtypes.PeerConfig, len(spec.Peers))
	for _, peer := range spec.Peers {
		pub, err := wgtypes.ParseKey(peer.PublicKey)
		if err != nil {
			return err
		}
		var nets []net.IPNet
		for _, cidr := range peer.AllowedIPs {
			_, ipnet, err := net.ParseCIDR(cidr)
			if err != nil {
				return err
			}
			nets = append(nets, *ipnet)
		}
		desired[pub] = wgtypes.PeerConfig{
			PublicKey:         pub,
			ReplaceAllowedIPs: true,
			AllowedIPs:        nets,
		}
	}

	device, err := wg.Device(spec.Interface)
	if err != nil {
		// no live view, push the full config
		cfg.ReplacePeers = true
		for _, peer := range desired {
			cfg.Peers = append(cfg.Peers, peer)
		}
		return wg.ConfigureDevice(spec.Interface, cfg)
	}

	for _, live := range device.Peers {
		if _, keep := desired[live.PublicKey]; !keep {
			cfg.Peers = append(cfg.Peers, wgtypes.PeerConfig{
				PublicKey: live.PublicKey,
				Remove:    true,
			})
		}
	}
	for _, peer := range desired {
		cfg.Peers = append(cfg.Peers, peer)
	}
	return wg.ConfigureDevice(spec.Interface, cfg)
}

// Status reports whether the device exists and is administratively up.
func (s *TunnelService) Status(iface string) TunnelStatus {
	status := TunnelStatus{}
	link, err := netlink.LinkByName(iface)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.Up = link.Attrs().Flags&net.FlagUp != 0
	wg, err := wgctrl.New()
	if err != nil {
		status.Error = err.Error()
		return status
	}
	defer wg.Close()
	device, err := wg.Device(iface)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.ListenPort = device.ListenPort
	status.PeerCount = len(device.Peers)
	return status
}

// Teardown removes the interface if it exists.
func (s *TunnelService) Teardown(iface string) error {
	link, err := netlink.LinkByName(iface)
	if err != nil {
		if _, notFound := err.(netlink.LinkNotFoundError); notFound {
			return nil
		}
		return err
	}
	return netlink.LinkDel(link)
}
