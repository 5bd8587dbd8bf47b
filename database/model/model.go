package model

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// Setting is a single key/value row of the server configuration.
// The ServerConfig singleton is represented by this table and is only
// mutated through the SettingService.
type Setting struct {
	Id    uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	Key   string `json:"key" gorm:"uniqueIndex"`
	Value string `json:"value"`
}

// Peer is one tunnel client. Username is the immutable identity key.
// IP is the host number inside the configured /24 subnet.
type Peer struct {
	Id                  uint            `json:"id" gorm:"primaryKey;autoIncrement"`
	Username            string          `json:"username" gorm:"uniqueIndex;not null"`
	IP                  int             `json:"ip" gorm:"not null"`
	PrivateKey          string          `json:"private_key"`
	PublicKey           string          `json:"public_key"`
	AllowedIPs          json.RawMessage `json:"allowed_ips"`
	ObfuscatorPort      *int            `json:"obfuscator_port"`
	MaskingTypeOverride *string         `json:"masking_type_override"`
	VerbosityLevel      string          `json:"verbosity_level"`
	Enabled             bool            `json:"enabled"`

	// Observed fields, written by the connectivity collector only.
	LatestHandshake int64 `json:"latest_handshake"`
	RxBytes         int64 `json:"rx_bytes"`
	TxBytes         int64 `json:"tx_bytes"`
	AllTimeRx       int64 `json:"all_time_rx_bytes"`
	AllTimeTx       int64 `json:"all_time_tx_bytes"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p *Peer) BeforeCreate(tx *gorm.DB) (err error) {
	if p.AllowedIPs == nil {
		p.AllowedIPs = json.RawMessage(`["0.0.0.0/0"]`)
	}
	return
}

// AllowedIPList decodes the stored AllowedIPs JSON array, falling back
// to the default route when unset.
func (p *Peer) AllowedIPList() ([]string, error) {
	if len(p.AllowedIPs) == 0 {
		return []string{"0.0.0.0/0"}, nil
	}
	var out []string
	err := json.Unmarshal(p.AllowedIPs, &out)
	return out, err
}

// Token is a bearer token issued to the admin user.
type Token struct {
	Id        uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	Token     string `json:"token" gorm:"uniqueIndex;not null"`
	CreatedAt int64  `json:"created_at"`
	ExpiresIn int64  `json:"expires_in"`
}

// TrafficSample is one collector cycle's rx/tx byte delta for a peer.
type TrafficSample struct {
	Id        uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	Username  string `json:"username" gorm:"index:idx_traffic_user_ts"`
	Timestamp int64  `json:"timestamp" gorm:"index:idx_traffic_user_ts"`
	RxDelta   int64  `json:"rx_bytes_delta"`
	TxDelta   int64  `json:"tx_bytes_delta"`
}
