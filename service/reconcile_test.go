package service

import (
	"errors"
	"testing"

	"github.com/clusterw/wgo-ui/database/model"
	"github.com/clusterw/wgo-ui/util/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTunnel struct {
	applies   []*TunnelSpec
	teardowns int
	failApply bool
}

func (f *fakeTunnel) Apply(spec *TunnelSpec, rendered string) error {
	if f.failApply {
		return common.NewErrorf("%w: injected failure", ErrApply)
	}
	f.applies = append(f.applies, spec)
	return nil
}

func (f *fakeTunnel) Status(iface string) TunnelStatus { return TunnelStatus{Up: true} }

func (f *fakeTunnel) Teardown(iface string) error {
	f.teardowns++
	return nil
}

type fakeObfuscator struct {
	fingerprints []string
	stops        int
}

func (f *fakeObfuscator) SyncState(cfg *ServerConfig, peers []model.Peer) error {
	f.fingerprints = append(f.fingerprints, ProcessFingerprint(BuildArgs(cfg), peers))
	return nil
}

func (f *fakeObfuscator) Stop() { f.stops++ }

func (f *fakeObfuscator) Status(enabled bool) ObfuscatorStatus {
	return ObfuscatorStatus{Enabled: enabled}
}

func (f *fakeObfuscator) Tail(n int) []string { return nil }

func newTestReconciler(t *testing.T) (*ReconcileService, *fakeTunnel, *fakeObfuscator) {
	t.Helper()
	setupTest(t)
	tunnel := &fakeTunnel{}
	obfuscator := &fakeObfuscator{}
	return NewReconcileService(NewStatsService(), tunnel, obfuscator), tunnel, obfuscator
}

func TestCreatePeerAllocatesLowestAddress(t *testing.T) {
	rc, tunnel, _ := newTestReconciler(t)

	alice, err := rc.CreatePeer("alice")
	require.NoError(t, err)
	assert.Equal(t, 2, alice.IP)
	assert.NotEmpty(t, alice.PrivateKey)
	assert.NotEmpty(t, alice.PublicKey)
	assert.NotEqual(t, alice.PrivateKey, alice.PublicKey)

	bob, err := rc.CreatePeer("bob")
	require.NoError(t, err)
	assert.Equal(t, 3, bob.IP)

	require.NotEmpty(t, tunnel.applies)
	last := tunnel.applies[len(tunnel.applies)-1]
	assert.Len(t, last.Peers, 2)
}

func TestCreatePeerDuplicateUsername(t *testing.T) {
	rc, _, _ := newTestReconciler(t)

	_, err := rc.CreatePeer("alice")
	require.NoError(t, err)

	_, err = rc.CreatePeer("alice")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConflict))
}

func TestCreatePeerInvalidUsername(t *testing.T) {
	rc, _, _ := newTestReconciler(t)

	for _, bad := range []string{"", "with space", "slash/name", "x@y"} {
		_, err := rc.CreatePeer(bad)
		assert.True(t, errors.Is(err, ErrValidation), "expected validation error for %q", bad)
	}
}

func TestDeletePeerFreesAddress(t *testing.T) {
	rc, _, _ := newTestReconciler(t)

	_, err := rc.CreatePeer("alice")
	require.NoError(t, err)
	_, err = rc.CreatePeer("bob")
	require.NoError(t, err)

	require.NoError(t, rc.DeletePeer("alice"))

	carol, err := rc.CreatePeer("carol")
	require.NoError(t, err)
	assert.Equal(t, 2, carol.IP, "freed address is reused")
}

func TestDeleteUnknownPeer(t *testing.T) {
	rc, _, _ := newTestReconciler(t)

	err := rc.DeletePeer("ghost")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestUpdatePeerMaskingForcedRejectsOverride(t *testing.T) {
	rc, _, _ := newTestReconciler(t)

	_, err := rc.CreatePeer("alice")
	require.NoError(t, err)

	forced := true
	_, err = rc.UpdateConfig(ConfigPatch{MaskingForced: &forced})
	require.NoError(t, err)

	stun := "STUN"
	_, err = rc.UpdatePeer("alice", PeerPatch{MaskingTypeOverride: &stun})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestUpdatePeerValidation(t *testing.T) {
	rc, _, _ := newTestReconciler(t)

	_, err := rc.CreatePeer("alice")
	require.NoError(t, err)

	badPort := 70000
	_, err = rc.UpdatePeer("alice", PeerPatch{ObfuscatorPort: &badPort})
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = rc.UpdatePeer("alice", PeerPatch{AllowedIPs: []string{}})
	assert.Error(t, err)

	goodPort := 14000
	peer, err := rc.UpdatePeer("alice", PeerPatch{ObfuscatorPort: &goodPort})
	require.NoError(t, err)
	require.NotNil(t, peer.ObfuscatorPort)
	assert.Equal(t, 14000, *peer.ObfuscatorPort)

	// zero clears the override back to the default port
	zero := 0
	peer, err = rc.UpdatePeer("alice", PeerPatch{ObfuscatorPort: &zero})
	require.NoError(t, err)
	assert.Nil(t, peer.ObfuscatorPort)
}

func TestUpdateConfigValidation(t *testing.T) {
	rc, _, _ := newTestReconciler(t)

	badSubnet := "10.6.13.0"
	_, err := rc.UpdateConfig(ConfigPatch{Subnet: &badSubnet})
	assert.True(t, errors.Is(err, ErrValidation))

	badLevel := "LOUD"
	_, err = rc.UpdateConfig(ConfigPatch{VerbosityLevel: &badLevel})
	assert.True(t, errors.Is(err, ErrValidation))

	badMasking := "QUIC"
	_, err = rc.UpdateConfig(ConfigPatch{MaskingType: &badMasking})
	assert.True(t, errors.Is(err, ErrValidation))

	emptyKey := ""
	_, err = rc.UpdateConfig(ConfigPatch{ObfuscationKey: &emptyKey})
	assert.True(t, errors.Is(err, ErrValidation))

	badAddr := "not-an-address"
	_, err = rc.UpdateConfig(ConfigPatch{ExternalIP: &badAddr})
	assert.True(t, errors.Is(err, ErrValidation))

	goodSubnet := "192.168.99"
	cfg, err := rc.UpdateConfig(ConfigPatch{Subnet: &goodSubnet})
	require.NoError(t, err)
	assert.Equal(t, "192.168.99", cfg.Subnet)
	assert.Equal(t, "192.168.99.1", cfg.ServerIP())

	// both families are accepted, empty clears the address
	v6 := "2001:db8::1"
	cfg, err = rc.UpdateConfig(ConfigPatch{ExternalIP: &v6})
	require.NoError(t, err)
	assert.Equal(t, v6, cfg.ExternalIP)

	empty := ""
	cfg, err = rc.UpdateConfig(ConfigPatch{ExternalIP: &empty})
	require.NoError(t, err)
	assert.Empty(t, cfg.ExternalIP)
}

func TestUpdateConfigAllOrNothing(t *testing.T) {
	rc, _, _ := newTestReconciler(t)

	goodSubnet := "192.168.99"
	badLevel := "LOUD"
	_, err := rc.UpdateConfig(ConfigPatch{Subnet: &goodSubnet, VerbosityLevel: &badLevel})
	require.Error(t, err)

	cfg, err := rc.GetConfig()
	require.NoError(t, err)
	assert.Equal(t, "10.6.13", cfg.Subnet, "rejected patch must not be partially applied")
}

func TestApplyFailureKeepsPersistedIntent(t *testing.T) {
	rc, tunnel, _ := newTestReconciler(t)
	tunnel.failApply = true

	_, err := rc.CreatePeer("alice")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrApply))

	// the peer is persisted, the next convergence picks it up
	peer, err := rc.GetPeer("alice")
	require.NoError(t, err)
	assert.Equal(t, 2, peer.IP)

	tunnel.failApply = false
	require.NoError(t, rc.Converge())
	require.NotEmpty(t, tunnel.applies)
	assert.Len(t, tunnel.applies[0].Peers, 1)
}

func TestDisableTearsDownTunnel(t *testing.T) {
	rc, tunnel, obfuscator := newTestReconciler(t)

	disabled := false
	_, err := rc.UpdateConfig(ConfigPatch{Enabled: &disabled})
	require.NoError(t, err)
	assert.Equal(t, 1, tunnel.teardowns)
	assert.GreaterOrEqual(t, obfuscator.stops, 1)
}

func TestObfuscatorRestartOnlyOnRelevantChange(t *testing.T) {
	rc, _, obfuscator := newTestReconciler(t)

	_, err := rc.CreatePeer("alice")
	require.NoError(t, err)
	fpAfterCreate := obfuscator.fingerprints[len(obfuscator.fingerprints)-1]

	// adding a peer without a port override keeps the process identity
	_, err = rc.CreatePeer("bob")
	require.NoError(t, err)
	assert.Equal(t, fpAfterCreate, obfuscator.fingerprints[len(obfuscator.fingerprints)-1])

	port := 14000
	_, err = rc.UpdatePeer("bob", PeerPatch{ObfuscatorPort: &port})
	require.NoError(t, err)
	assert.NotEqual(t, fpAfterCreate, obfuscator.fingerprints[len(obfuscator.fingerprints)-1])

	key := "fresh-obfuscation-key"
	_, err = rc.UpdateConfig(ConfigPatch{ObfuscationKey: &key})
	require.NoError(t, err)
	last := obfuscator.fingerprints[len(obfuscator.fingerprints)-1]
	assert.Contains(t, last, "fresh-obfuscation-key")
}

func TestRegeneratePeerKeys(t *testing.T) {
	rc, _, _ := newTestReconciler(t)

	alice, err := rc.CreatePeer("alice")
	require.NoError(t, err)
	oldPub := alice.PublicKey

	rotated, err := rc.RegeneratePeerKeys("alice")
	require.NoError(t, err)
	assert.NotEqual(t, oldPub, rotated.PublicKey)
	assert.Equal(t, alice.IP, rotated.IP, "address survives key rotation")
}

func TestRegenerateServerKeys(t *testing.T) {
	rc, _, _ := newTestReconciler(t)

	before, err := rc.GetConfig()
	require.NoError(t, err)

	pub, err := rc.RegenerateServerKeys()
	require.NoError(t, err)
	assert.NotEqual(t, before.ServerPublicKey, pub)

	after, err := rc.GetConfig()
	require.NoError(t, err)
	assert.Equal(t, pub, after.ServerPublicKey)
}

func TestStatusCountsConnectedPeers(t *testing.T) {
	rc, _, _ := newTestReconciler(t)

	_, err := rc.CreatePeer("alice")
	require.NoError(t, err)
	_, err = rc.CreatePeer("bob")
	require.NoError(t, err)

	status, err := rc.Status()
	require.NoError(t, err)
	assert.Equal(t, 2, status.PeerCount)
	assert.Equal(t, 0, status.Connected, "fresh peers never shook hands")
}
