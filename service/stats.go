package service

import (
	"sync"
	"time"

	"github.com/clusterw/wgo-ui/database"
	"github.com/clusterw/wgo-ui/database/model"
	"github.com/clusterw/wgo-ui/logger"
	"golang.zx2c4.com/wireguard/wgctrl"
)

// HandshakeTimeout is how long after the last handshake a peer still
// counts as connected.
const HandshakeTimeout = 180 * time.Second

// PeerRuntime is one peer's live state read from the kernel, already
// translated to the client's perspective: Rx is what the client
// received, Tx what it sent.
type PeerRuntime struct {
	PublicKey       string
	Endpoint        string
	LatestHandshake int64
	RxBytes         int64
	TxBytes         int64
}

// deviceReader abstracts the kernel dump so the merge logic is
// testable without a live interface.
type deviceReader interface {
	ReadPeers(iface string) ([]PeerRuntime, error)
}

type wgDeviceReader struct{}

func (wgDeviceReader) ReadPeers(iface string) ([]PeerRuntime, error) {
	wg, err := wgctrl.New()
	if err != nil {
		return nil, err
	}
	defer wg.Close()
	device, err := wg.Device(iface)
	if err != nil {
		return nil, err
	}
	runtime := make([]PeerRuntime, 0, len(device.Peers))
	for _, peer := range device.Peers {
		rt := PeerRuntime{
			PublicKey: peer.PublicKey.String(),
			// kernel counters are server-side, swap for the client view
			RxBytes: peer.TransmitBytes,
			TxBytes: peer.ReceiveBytes,
		}
		if !peer.LastHandshakeTime.IsZero() {
			rt.LatestHandshake = peer.LastHandshakeTime.Unix()
		}
		if peer.Endpoint != nil {
			rt.Endpoint = peer.Endpoint.String()
		}
		runtime = append(runtime, rt)
	}
	return runtime, nil
}

// StatsService merges live peer state into the persisted records and
// keeps per-peer traffic deltas for history charts.
type StatsService struct {
	SettingService
	PeerService

	reader deviceReader

	counterMu sync.Mutex
	// last absolute counters per username, for delta computation
	lastCounters map[string][2]int64
}

func NewStatsService() *StatsService {
	return &StatsService{
		reader:       wgDeviceReader{},
		lastCounters: make(map[string][2]int64),
	}
}

// IsConnected reports whether a handshake timestamp is recent enough
// to count the peer as online.
func IsConnected(latestHandshake int64, now time.Time) bool {
	if latestHandshake <= 0 {
		return false
	}
	return now.Unix()-latestHandshake < int64(HandshakeTimeout/time.Second)
}

// ReadRuntime dumps the live device state. A missing device is not an
// error: persisted values simply stay as they are.
func (s *StatsService) ReadRuntime() []PeerRuntime {
	cfg, err := s.GetServerConfig()
	if err != nil {
		logger.Warning("stats: load config:", err)
		return nil
	}
	if !cfg.Enabled {
		return nil
	}
	runtime, err := s.reader.ReadPeers(cfg.WGInterface)
	if err != nil {
		logger.Debug("stats: device dump failed:", err)
		return nil
	}
	return runtime
}

// Merge folds a runtime snapshot into the persisted peer rows.
// Handshakes only move forward, counters only accumulate, and peers
// absent from the snapshot keep their stored values.
func (s *StatsService) Merge(runtime []PeerRuntime, now time.Time) error {
	if len(runtime) == 0 {
		return nil
	}
	byKey := make(map[string]PeerRuntime, len(runtime))
	for _, rt := range runtime {
		byKey[rt.PublicKey] = rt
	}
	peers, err := s.GetAll()
	if err != nil {
		return err
	}

	db := database.GetDB()
	s.counterMu.Lock()
	defer s.counterMu.Unlock()
	for i := range peers {
		peer := &peers[i]
		rt, ok := byKey[peer.PublicKey]
		if !ok {
			continue
		}
		if rt.LatestHandshake > peer.LatestHandshake {
			peer.LatestHandshake = rt.LatestHandshake
		}

		last, seen := s.lastCounters[peer.Username]
		rxDelta, txDelta := int64(0), int64(0)
		if seen {
			rxDelta = rt.RxBytes - last[0]
			txDelta = rt.TxBytes - last[1]
			// counter reset after an interface restart
			if rxDelta < 0 {
				rxDelta = rt.RxBytes
			}
			if txDelta < 0 {
				txDelta = rt.TxBytes
			}
		}
		s.lastCounters[peer.Username] = [2]int64{rt.RxBytes, rt.TxBytes}

		peer.RxBytes = rt.RxBytes
		peer.TxBytes = rt.TxBytes
		peer.AllTimeRx += rxDelta
		peer.AllTimeTx += txDelta
		if err := db.Save(peer).Error; err != nil {
			return err
		}
		if rxDelta > 0 || txDelta > 0 {
			sample := &model.TrafficSample{
				Username:  peer.Username,
				Timestamp: now.Unix(),
				RxDelta:   rxDelta,
				TxDelta:   txDelta,
			}
			if err := db.Create(sample).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

// DelOldStats drops traffic samples older than the retention window.
func (s *StatsService) DelOldStats(days int) error {
	if days <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -days).Unix()
	return database.GetDB().Where("timestamp < ?", cutoff).Delete(model.TrafficSample{}).Error
}

// GetTraffic returns a peer's samples in a time window, oldest first.
func (s *StatsService) GetTraffic(username string, from int64, to int64) ([]model.TrafficSample, error) {
	if _, err := s.Get(username); err != nil {
		return nil, err
	}
	var samples []model.TrafficSample
	query := database.GetDB().Model(model.TrafficSample{}).Where("username = ?", username)
	if from > 0 {
		query = query.Where("timestamp >= ?", from)
	}
	if to > 0 {
		query = query.Where("timestamp <= ?", to)
	}
	err := query.Order("timestamp asc").Find(&samples).Error
	return samples, err
}

// ResetCounters forgets the last seen absolute counters, used when a
// peer is deleted or the interface is rebuilt.
func (s *StatsService) ResetCounters(username string) {
	s.counterMu.Lock()
	defer s.counterMu.Unlock()
	if username == "" {
		s.lastCounters = make(map[string][2]int64)
	} else {
		delete(s.lastCounters, username)
	}
}
