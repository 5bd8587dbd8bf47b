package service

import (
	"net/netip"
	"strings"
	"testing"

	"github.com/clusterw/wgo-ui/database/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServerConfig() *ServerConfig {
	return &ServerConfig{
		Subnet:           "10.6.13",
		OwnIP:            1,
		WGInterface:      "wg0",
		WANInterface:     "eth0",
		Enabled:          true,
		Obfuscation:      true,
		ObfuscationKey:   "test-key",
		VerbosityLevel:   "INFO",
		MaskingType:      "NONE",
		serverPrivateKey: "SERVER_PRIVATE",
		ServerPublicKey:  "SERVER_PUBLIC",
		ExternalIP:       "203.0.113.10",
		ExternalPort:     13254,
	}
}

func testPeers() []model.Peer {
	return []model.Peer{
		{Id: 1, Username: "alice", IP: 2, PublicKey: "ALICE_PUB", PrivateKey: "ALICE_PRIV", Enabled: true},
		{Id: 2, Username: "bob", IP: 3, PublicKey: "BOB_PUB", PrivateKey: "BOB_PRIV", Enabled: false},
		{Id: 3, Username: "carol", IP: 4, PublicKey: "CAROL_PUB", PrivateKey: "CAROL_PRIV", Enabled: true},
	}
}

func TestBuildTunnelSpecSkipsDisabled(t *testing.T) {
	g := WGConfigService{}
	spec := g.BuildTunnelSpec(testServerConfig(), testPeers())

	require.Len(t, spec.Peers, 2)
	assert.Equal(t, "ALICE_PUB", spec.Peers[0].PublicKey)
	assert.Equal(t, []string{"10.6.13.2/32"}, spec.Peers[0].AllowedIPs)
	assert.Equal(t, "CAROL_PUB", spec.Peers[1].PublicKey)
	assert.Equal(t, "10.6.13.1/24", spec.Address)
}

func TestTunnelSpecInternalPortWithObfuscation(t *testing.T) {
	cfg := testServerConfig()
	g := WGConfigService{}

	spec := g.BuildTunnelSpec(cfg, nil)
	assert.Equal(t, InternalWGPort, spec.ListenPort)

	cfg.Obfuscation = false
	spec = g.BuildTunnelSpec(cfg, nil)
	assert.Equal(t, 13254, spec.ListenPort)
}

func TestRenderServerConfigDeterministic(t *testing.T) {
	g := WGConfigService{}
	cfg := testServerConfig()
	peers := testPeers()

	first := g.RenderServerConfig(cfg, peers)
	second := g.RenderServerConfig(cfg, peers)
	assert.Equal(t, first, second)

	assert.Contains(t, first, "Address = 10.6.13.1/24")
	assert.Contains(t, first, "# alice")
	assert.Contains(t, first, "# carol")
	assert.NotContains(t, first, "bob", "disabled peers must not be rendered")
}

func TestRenderClientConfigDirect(t *testing.T) {
	g := WGConfigService{}
	cfg := testServerConfig()
	cfg.Obfuscation = false
	peer := &testPeers()[0]

	conf, err := g.RenderClientConfig(cfg, peer)
	require.NoError(t, err)
	assert.Contains(t, conf, "Endpoint = 203.0.113.10:13254")
	assert.Contains(t, conf, "Address = 10.6.13.2/24")
	assert.Contains(t, conf, "AllowedIPs = 0.0.0.0/0")
}

func TestRenderClientConfigObfuscated(t *testing.T) {
	g := WGConfigService{}
	cfg := testServerConfig()
	peer := &testPeers()[0]

	conf, err := g.RenderClientConfig(cfg, peer)
	require.NoError(t, err)
	assert.Contains(t, conf, "Endpoint = 127.0.0.1:13255")
	assert.NotContains(t, conf, "0.0.0.0/0", "server address must be carved out of the default route")

	port := 14000
	peer.ObfuscatorPort = &port
	conf, err = g.RenderClientConfig(cfg, peer)
	require.NoError(t, err)
	assert.Contains(t, conf, "Endpoint = 127.0.0.1:14000")
}

func TestRenderClientObfuscatorConfig(t *testing.T) {
	g := WGConfigService{}
	cfg := testServerConfig()
	peer := &testPeers()[0]

	conf := g.RenderClientObfuscatorConfig(cfg, peer)
	assert.Contains(t, conf, "source = 127.0.0.1:13255")
	assert.Contains(t, conf, "target = 203.0.113.10:13254")
	assert.Contains(t, conf, "key = test-key")
	assert.Contains(t, conf, "masking = NONE")

	stun := "STUN"
	peer.MaskingTypeOverride = &stun
	conf = g.RenderClientObfuscatorConfig(cfg, peer)
	assert.Contains(t, conf, "masking = STUN")

	// a forced server type wins over the peer override
	cfg.MaskingForced = true
	conf = g.RenderClientObfuscatorConfig(cfg, peer)
	assert.Contains(t, conf, "masking = NONE")
}

func TestExcludeHostFromList(t *testing.T) {
	out, err := excludeHostFromList([]string{"0.0.0.0/0"}, "203.0.113.10")
	require.NoError(t, err)

	hole := netip.MustParseAddr("203.0.113.10")
	total := 0
	for _, entry := range out {
		prefix := netip.MustParsePrefix(entry)
		assert.False(t, prefix.Contains(hole), "prefix %s still covers the excluded host", entry)
		total++
	}
	assert.Equal(t, 32, total, "excluding one /32 from /0 splits into 32 prefixes")

	// untouched prefixes pass through
	out, err = excludeHostFromList([]string{"192.168.0.0/16"}, "203.0.113.10")
	require.NoError(t, err)
	assert.Equal(t, []string{"192.168.0.0/16"}, out)
}

func TestExcludeHostIPv6(t *testing.T) {
	out, err := excludeHostFromList([]string{"::/0"}, "2001:db8::1")
	require.NoError(t, err)

	hole := netip.MustParseAddr("2001:db8::1")
	for _, entry := range out {
		prefix := netip.MustParsePrefix(entry)
		assert.False(t, prefix.Contains(hole), "prefix %s still covers the excluded host", entry)
	}
	assert.Len(t, out, 128, "excluding one /128 from ::/0 splits into 128 prefixes")

	for _, probe := range []string{"2001:db8::", "2001:db8::2", "fe80::1"} {
		addr := netip.MustParseAddr(probe)
		covered := false
		for _, entry := range out {
			if netip.MustParsePrefix(entry).Contains(addr) {
				covered = true
				break
			}
		}
		assert.True(t, covered, "address %s lost from the routing set", probe)
	}

	// a route of the other family is untouched
	out, err = excludeHostFromList([]string{"10.0.0.0/8"}, "2001:db8::1")
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/8"}, out)
}

func TestExcludeHostCoversWholeSpace(t *testing.T) {
	out, err := excludeHostFromList([]string{"0.0.0.0/0"}, "203.0.113.10")
	require.NoError(t, err)

	// every address except the hole must still be routed
	for _, probe := range []string{"0.0.0.1", "203.0.113.9", "203.0.113.11", "255.255.255.255"} {
		addr := netip.MustParseAddr(probe)
		covered := false
		for _, entry := range out {
			if netip.MustParsePrefix(entry).Contains(addr) {
				covered = true
				break
			}
		}
		assert.True(t, covered, "address %s lost from the routing set", probe)
	}
}

func TestValidateAllowedIPs(t *testing.T) {
	assert.NoError(t, ValidateAllowedIPs([]string{"0.0.0.0/0"}))
	assert.NoError(t, ValidateAllowedIPs([]string{"10.0.0.0/8", "192.168.1.0/24"}))

	assert.Error(t, ValidateAllowedIPs(nil))
	assert.Error(t, ValidateAllowedIPs([]string{"10.0.0.1/8"}), "host bits set")
	assert.Error(t, ValidateAllowedIPs([]string{"not-a-cidr"}))
}

func TestRenderClientConfigKeepalive(t *testing.T) {
	g := WGConfigService{}
	conf, err := g.RenderClientConfig(testServerConfig(), &testPeers()[0])
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(conf, "PersistentKeepalive = 25\n"))
}
