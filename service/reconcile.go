package service

import (
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/clusterw/wgo-ui/database/model"
	"github.com/clusterw/wgo-ui/logger"
	"github.com/clusterw/wgo-ui/util/common"
)

// tunnelController and obfuscatorController are the two actuators the
// reconciler drives. Narrow interfaces keep the orchestration testable.
type tunnelController interface {
	Apply(spec *TunnelSpec, rendered string) error
	Status(iface string) TunnelStatus
	Teardown(iface string) error
}

type obfuscatorController interface {
	SyncState(cfg *ServerConfig, peers []model.Peer) error
	Stop()
	Status(enabled bool) ObfuscatorStatus
	Tail(n int) []string
}

// ReconcileService serializes every mutation of the desired state and
// converges the kernel interface and the obfuscator process after each
// one. Intent is persisted before actuation: a failed apply leaves the
// database as the source of truth for the next convergence attempt.
type ReconcileService struct {
	mu sync.RWMutex

	settings SettingService
	peers    PeerService
	keys     KeyService
	wgConfig WGConfigService
	stats    *StatsService

	tunnel     tunnelController
	obfuscator obfuscatorController

	lastApplyErr string
}

func NewReconcileService(stats *StatsService, tunnel tunnelController, obfuscator obfuscatorController) *ReconcileService {
	return &ReconcileService{
		stats:      stats,
		tunnel:     tunnel,
		obfuscator: obfuscator,
	}
}

// converge regenerates everything from persisted state and pushes it
// to the actuators. Callers must hold the write lock.
func (s *ReconcileService) converge() error {
	cfg, err := s.settings.GetServerConfig()
	if err != nil {
		return err
	}
	peers, err := s.peers.GetAll()
	if err != nil {
		return err
	}
	if !cfg.Enabled {
		s.obfuscator.Stop()
		if err := s.tunnel.Teardown(cfg.WGInterface); err != nil {
			s.lastApplyErr = err.Error()
			return common.NewErrorf("%w: teardown: %v", ErrApply, err)
		}
		s.lastApplyErr = ""
		return nil
	}
	spec := s.wgConfig.BuildTunnelSpec(cfg, peers)
	rendered := s.wgConfig.RenderServerConfig(cfg, peers)
	if err := s.tunnel.Apply(spec, rendered); err != nil {
		s.lastApplyErr = err.Error()
		return err
	}
	if err := s.obfuscator.SyncState(cfg, peers); err != nil {
		s.lastApplyErr = err.Error()
		return err
	}
	s.lastApplyErr = ""
	return nil
}

// Converge re-applies persisted state, used at startup and by the API
// to retry after a failed apply.
func (s *ReconcileService) Converge() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.converge()
}

// Shutdown stops the obfuscator and removes the interface.
func (s *ReconcileService) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.obfuscator.Stop()
	cfg, err := s.settings.GetServerConfig()
	if err != nil {
		logger.Warning("shutdown: load config:", err)
		return
	}
	if err := s.tunnel.Teardown(cfg.WGInterface); err != nil {
		logger.Warning("shutdown: teardown:", err)
	}
}

// PeerPatch carries the mutable peer fields; nil means unchanged.
type PeerPatch struct {
	Enabled             *bool    `json:"enabled"`
	AllowedIPs          []string `json:"allowedIps"`
	ObfuscatorPort      *int     `json:"obfuscatorPort"`
	MaskingTypeOverride *string  `json:"maskingTypeOverride"`
	VerbosityLevel      *string  `json:"verbosityLevel"`
}

// CreatePeer allocates an address, generates a key pair and persists
// the peer, then converges.
func (s *ReconcileService) CreatePeer(username string) (*model.Peer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	exists, err := s.peers.Exists(username)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, common.NewErrorf("%w: peer %q already exists", ErrConflict, username)
	}
	cfg, err := s.settings.GetServerConfig()
	if err != nil {
		return nil, err
	}
	used, err := s.peers.UsedIPs()
	if err != nil {
		return nil, err
	}
	ip, err := NewIPAllocator(cfg.OwnIP, used).Allocate()
	if err != nil {
		return nil, err
	}
	priv, pub, err := s.keys.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	peer := &model.Peer{
		Username:   username,
		IP:         ip,
		PrivateKey: priv,
		PublicKey:  pub,
		Enabled:    true,
	}
	if err := s.peers.Create(peer); err != nil {
		return nil, err
	}
	logger.Infof("peer %q created with address %s", username, HostAddr(cfg.Subnet, ip))
	return peer, s.converge()
}

// UpdatePeer validates and persists a patch, then converges.
func (s *ReconcileService) UpdatePeer(username string, patch PeerPatch) (*model.Peer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	peer, err := s.peers.Get(username)
	if err != nil {
		return nil, err
	}
	cfg, err := s.settings.GetServerConfig()
	if err != nil {
		return nil, err
	}
	if patch.AllowedIPs != nil {
		raw, err := MarshalAllowedIPs(patch.AllowedIPs)
		if err != nil {
			return nil, err
		}
		peer.AllowedIPs = raw
	}
	if patch.ObfuscatorPort != nil {
		if *patch.ObfuscatorPort == 0 {
			peer.ObfuscatorPort = nil
		} else {
			if err := ValidatePort(*patch.ObfuscatorPort); err != nil {
				return nil, err
			}
			peer.ObfuscatorPort = patch.ObfuscatorPort
		}
	}
	if patch.MaskingTypeOverride != nil {
		if *patch.MaskingTypeOverride == "" {
			peer.MaskingTypeOverride = nil
		} else {
			if cfg.MaskingForced {
				return nil, common.NewErrorf("%w: masking type is forced server-wide", ErrValidation)
			}
			if !IsValidMasking(*patch.MaskingTypeOverride) {
				return nil, common.NewErrorf("%w: unknown masking type %q", ErrValidation, *patch.MaskingTypeOverride)
			}
			peer.MaskingTypeOverride = patch.MaskingTypeOverride
		}
	}
	if patch.VerbosityLevel != nil {
		if *patch.VerbosityLevel != "" && !IsValidVerbosity(*patch.VerbosityLevel) {
			return nil, common.NewErrorf("%w: unknown verbosity level %q", ErrValidation, *patch.VerbosityLevel)
		}
		peer.VerbosityLevel = *patch.VerbosityLevel
	}
	if patch.Enabled != nil {
		peer.Enabled = *patch.Enabled
	}
	if err := s.peers.Save(peer); err != nil {
		return nil, err
	}
	return peer, s.converge()
}

// DeletePeer removes the peer and frees its address.
func (s *ReconcileService) DeletePeer(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.peers.Get(username); err != nil {
		return err
	}
	if err := s.peers.Delete(username); err != nil {
		return err
	}
	s.stats.ResetCounters(username)
	logger.Infof("peer %q deleted", username)
	return s.converge()
}

// RegeneratePeerKeys replaces a peer's key pair.
func (s *ReconcileService) RegeneratePeerKeys(username string) (*model.Peer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	peer, err := s.peers.Get(username)
	if err != nil {
		return nil, err
	}
	priv, pub, err := s.keys.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	peer.PrivateKey = priv
	peer.PublicKey = pub
	if err := s.peers.Save(peer); err != nil {
		return nil, err
	}
	return peer, s.converge()
}

// ConfigPatch carries the mutable server settings; nil means
// unchanged.
type ConfigPatch struct {
	Subnet         *string `json:"subnet"`
	Enabled        *bool   `json:"enabled"`
	Obfuscation    *bool   `json:"obfuscation"`
	ObfuscationKey *string `json:"obfuscationKey"`
	VerbosityLevel *string `json:"verbosityLevel"`
	MaskingType    *string `json:"maskingType"`
	MaskingForced  *bool   `json:"maskingForced"`
	ExternalIP     *string `json:"externalIp"`
	ExternalPort   *int    `json:"externalPort"`
	WANInterface   *string `json:"wanInterface"`
}

// UpdateConfig validates and persists server settings, then converges.
// Validation is all-or-nothing: nothing is written if any field is
// rejected.
func (s *ReconcileService) UpdateConfig(patch ConfigPatch) (*ServerConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := map[string]string{}
	if patch.Subnet != nil {
		base, err := ParseSubnetBase(*patch.Subnet)
		if err != nil {
			return nil, err
		}
		used, err := s.peers.UsedIPs()
		if err != nil {
			return nil, err
		}
		if err := CheckSubnetCapacity(base, used); err != nil {
			return nil, err
		}
		pending["subnet"] = base
	}
	if patch.Enabled != nil {
		pending["enabled"] = boolStr(*patch.Enabled)
	}
	if patch.Obfuscation != nil {
		pending["obfuscation"] = boolStr(*patch.Obfuscation)
	}
	if patch.ObfuscationKey != nil {
		key := *patch.ObfuscationKey
		if len(key) == 0 || len(key) > maxObfuscationKeyLen {
			return nil, common.NewErrorf("%w: obfuscation key must be 1-%d characters", ErrValidation, maxObfuscationKeyLen)
		}
		pending["obfuscationKey"] = key
	}
	if patch.VerbosityLevel != nil {
		if !IsValidVerbosity(*patch.VerbosityLevel) {
			return nil, common.NewErrorf("%w: unknown verbosity level %q", ErrValidation, *patch.VerbosityLevel)
		}
		pending["verbosityLevel"] = *patch.VerbosityLevel
	}
	if patch.MaskingType != nil {
		if !IsValidMasking(*patch.MaskingType) {
			return nil, common.NewErrorf("%w: unknown masking type %q", ErrValidation, *patch.MaskingType)
		}
		pending["maskingType"] = *patch.MaskingType
	}
	if patch.MaskingForced != nil {
		pending["maskingForced"] = boolStr(*patch.MaskingForced)
	}
	if patch.ExternalIP != nil {
		if *patch.ExternalIP != "" {
			if _, err := netip.ParseAddr(*patch.ExternalIP); err != nil {
				return nil, common.NewErrorf("%w: external address %q is not an IP address", ErrValidation, *patch.ExternalIP)
			}
		}
		pending["externalIp"] = *patch.ExternalIP
	}
	if patch.ExternalPort != nil {
		if err := ValidatePort(*patch.ExternalPort); err != nil {
			return nil, err
		}
		pending["externalPort"] = strconv.Itoa(*patch.ExternalPort)
	}
	if patch.WANInterface != nil {
		if *patch.WANInterface == "" {
			return nil, common.NewErrorf("%w: WAN interface must not be empty", ErrValidation)
		}
		pending["wanInterface"] = *patch.WANInterface
	}

	for key, value := range pending {
		if err := s.settings.SetString(key, value); err != nil {
			return nil, err
		}
	}
	cfg, err := s.settings.GetServerConfig()
	if err != nil {
		return nil, err
	}
	return cfg, s.converge()
}

// RegenerateServerKeys replaces the server key pair. Every client
// config becomes stale, which is the point of rotating.
func (s *ReconcileService) RegenerateServerKeys() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	priv, pub, err := s.keys.GenerateKeyPair()
	if err != nil {
		return "", err
	}
	if err := s.settings.SetString("serverPrivateKey", priv); err != nil {
		return "", err
	}
	if err := s.settings.SetString("serverPublicKey", pub); err != nil {
		return "", err
	}
	logger.Info("server key pair rotated")
	return pub, s.converge()
}

// RegenerateObfuscationKey rotates the shared obfuscation secret.
func (s *ReconcileService) RegenerateObfuscationKey() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, err := s.settings.RegenerateObfuscationKey()
	if err != nil {
		return "", err
	}
	return key, s.converge()
}

// PeerInfo is the API view of a peer: persisted fields plus derived
// connectivity.
type PeerInfo struct {
	model.Peer
	Address     string `json:"address"`
	IsConnected bool   `json:"isConnected"`
}

func (s *ReconcileService) peerInfo(cfg *ServerConfig, peer model.Peer, now time.Time) PeerInfo {
	return PeerInfo{
		Peer:        peer,
		Address:     HostAddr(cfg.Subnet, peer.IP),
		IsConnected: IsConnected(peer.LatestHandshake, now),
	}
}

func (s *ReconcileService) ListPeers() ([]PeerInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, err := s.settings.GetServerConfig()
	if err != nil {
		return nil, err
	}
	peers, err := s.peers.GetAll()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	infos := make([]PeerInfo, 0, len(peers))
	for _, peer := range peers {
		infos = append(infos, s.peerInfo(cfg, peer, now))
	}
	return infos, nil
}

func (s *ReconcileService) GetPeer(username string) (*PeerInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, err := s.settings.GetServerConfig()
	if err != nil {
		return nil, err
	}
	peer, err := s.peers.Get(username)
	if err != nil {
		return nil, err
	}
	info := s.peerInfo(cfg, *peer, time.Now())
	return &info, nil
}

func (s *ReconcileService) GetConfig() (*ServerConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.GetServerConfig()
}

// PeerWGConfig renders the downloadable client tunnel config.
func (s *ReconcileService) PeerWGConfig(username string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, err := s.settings.GetServerConfig()
	if err != nil {
		return "", err
	}
	peer, err := s.peers.Get(username)
	if err != nil {
		return "", err
	}
	return s.wgConfig.RenderClientConfig(cfg, peer)
}

// PeerObfuscatorConfig renders the client obfuscator companion config.
func (s *ReconcileService) PeerObfuscatorConfig(username string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, err := s.settings.GetServerConfig()
	if err != nil {
		return "", err
	}
	if !cfg.Obfuscation {
		return "", common.NewErrorf("%w: obfuscation is disabled", ErrValidation)
	}
	peer, err := s.peers.Get(username)
	if err != nil {
		return "", err
	}
	return s.wgConfig.RenderClientObfuscatorConfig(cfg, peer), nil
}

// EngineStatus is the aggregate health view.
type EngineStatus struct {
	Enabled      bool             `json:"enabled"`
	Tunnel       TunnelStatus     `json:"tunnel"`
	Obfuscator   ObfuscatorStatus `json:"obfuscator"`
	LastApplyErr string           `json:"lastApplyError,omitempty"`
	PeerCount    int              `json:"peerCount"`
	Connected    int              `json:"connected"`
}

func (s *ReconcileService) Status() (*EngineStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, err := s.settings.GetServerConfig()
	if err != nil {
		return nil, err
	}
	peers, err := s.peers.GetAll()
	if err != nil {
		return nil, err
	}
	status := &EngineStatus{
		Enabled:      cfg.Enabled,
		Tunnel:       s.tunnel.Status(cfg.WGInterface),
		Obfuscator:   s.obfuscator.Status(cfg.Enabled && cfg.Obfuscation),
		LastApplyErr: s.lastApplyErr,
		PeerCount:    len(peers),
	}
	now := time.Now()
	for _, peer := range peers {
		if IsConnected(peer.LatestHandshake, now) {
			status.Connected++
		}
	}
	return status, nil
}

// ObfuscatorLogs returns recent process output.
func (s *ReconcileService) ObfuscatorLogs(n int) []string {
	return s.obfuscator.Tail(n)
}

// CollectStats runs one collector cycle. The device dump happens
// outside the lock; the merge grabs it non-blocking and skips the
// cycle if a mutation is in flight.
func (s *ReconcileService) CollectStats() error {
	runtime := s.stats.ReadRuntime()
	if len(runtime) == 0 {
		return nil
	}
	if !s.mu.TryLock() {
		logger.Debug("stats: reconcile busy, skipping cycle")
		return nil
	}
	defer s.mu.Unlock()
	return s.stats.Merge(runtime, time.Now())
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

