package service

import (
	"context"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/clusterw/wgo-ui/config"
	"github.com/clusterw/wgo-ui/database"
	"github.com/clusterw/wgo-ui/database/model"
	"github.com/clusterw/wgo-ui/logger"
	"github.com/clusterw/wgo-ui/util/common"
)

const (
	// Port the WireGuard interface binds when the obfuscator fronts it.
	InternalWGPort = 65535
	// Local port a client obfuscator listens on by default.
	DefaultClientObfuscatorPort = 13255
	// Port the server obfuscator (or WireGuard directly) is reachable on.
	DefaultExternalPort = 13254

	obfuscationKeyLength  = 64
	maxObfuscationKeyLen  = 300
	externalIPProbeURL    = "https://4.ident.me"
	externalIPProbePeriod = 10 * time.Second
)

var VerbosityLevels = []string{"ERROR", "WARNING", "INFO", "DEBUG", "TRACE"}

var MaskingTypes = []string{"NONE", "STUN"}

func IsValidVerbosity(v string) bool {
	for _, l := range VerbosityLevels {
		if v == l {
			return true
		}
	}
	return false
}

func IsValidMasking(m string) bool {
	for _, t := range MaskingTypes {
		if m == t {
			return true
		}
	}
	return false
}

// ServerConfig is the materialized server-side configuration used by
// the generator and the controllers.
type ServerConfig struct {
	Subnet           string `json:"subnet"`
	OwnIP            int    `json:"ownIp"`
	WGInterface      string `json:"wgInterface"`
	WANInterface     string `json:"wanInterface"`
	Enabled          bool   `json:"enabled"`
	Obfuscation      bool   `json:"obfuscation"`
	ObfuscationKey   string `json:"obfuscationKey"`
	VerbosityLevel   string `json:"verbosityLevel"`
	MaskingType      string `json:"maskingType"`
	MaskingForced    bool   `json:"maskingForced"`
	ServerPublicKey  string `json:"serverPublicKey"`
	serverPrivateKey string
	ExternalIP       string `json:"externalIp"`
	ExternalPort     int    `json:"externalPort"`
}

// ServerIP returns the server tunnel address without prefix.
func (c *ServerConfig) ServerIP() string {
	return HostAddr(c.Subnet, c.OwnIP)
}

// ListenPort is the port the WireGuard interface itself binds. With
// obfuscation on, the obfuscator owns the external port and WireGuard
// hides on a loopback-only one.
func (c *ServerConfig) ListenPort() int {
	if c.Obfuscation {
		return InternalWGPort
	}
	return c.ExternalPort
}

var defaultSettings = map[string]string{
	"subnet":         "10.6.13",
	"ownIp":          "1",
	"wgInterface":    "wg0",
	"wanInterface":   "eth0",
	"enabled":        "true",
	"obfuscation":    "true",
	"verbosityLevel": "INFO",
	"maskingType":    "NONE",
	"maskingForced":  "false",
	"trafficAge":     "30",
	"sessionMaxAge":  "86400",
	"webListen":      "",
	"webPort":        "5000",
	"timeLocation":   "UTC",
}

type SettingService struct{}

func (s *SettingService) getSetting(key string) (string, error) {
	db := database.GetDB()
	setting := &model.Setting{}
	err := db.Model(model.Setting{}).Where("key = ?", key).First(setting).Error
	if err != nil {
		return "", err
	}
	return setting.Value, nil
}

func (s *SettingService) saveSetting(key string, value string) error {
	db := database.GetDB()
	var count int64
	err := db.Model(model.Setting{}).Where("key = ?", key).Count(&count).Error
	if err != nil {
		return err
	}
	if count == 0 {
		return db.Create(&model.Setting{Key: key, Value: value}).Error
	}
	return db.Model(model.Setting{}).Where("key = ?", key).Update("value", value).Error
}

func (s *SettingService) GetString(key string) (string, error) {
	value, err := s.getSetting(key)
	if database.IsNotFound(err) {
		if def, ok := defaultSettings[key]; ok {
			return def, nil
		}
		return "", common.NewErrorf("unknown setting %q", key)
	}
	return value, err
}

func (s *SettingService) getInt(key string) (int, error) {
	value, err := s.GetString(key)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(value)
}

func (s *SettingService) getBool(key string) (bool, error) {
	value, err := s.GetString(key)
	if err != nil {
		return false, err
	}
	return strconv.ParseBool(value)
}

func (s *SettingService) SetString(key string, value string) error {
	return s.saveSetting(key, value)
}

func (s *SettingService) GetTrafficAge() (int, error)    { return s.getInt("trafficAge") }
func (s *SettingService) GetSessionMaxAge() (int, error) { return s.getInt("sessionMaxAge") }
func (s *SettingService) GetWebListen() (string, error)  { return s.GetString("webListen") }
func (s *SettingService) GetWebPort() (int, error)       { return s.getInt("webPort") }

func (s *SettingService) GetTimeLocation() (*time.Location, error) {
	name, err := s.GetString("timeLocation")
	if err != nil {
		return nil, err
	}
	return time.LoadLocation(name)
}

// EnsureDefaults seeds missing settings, the server key pair and the
// obfuscation key on first start.
func (s *SettingService) EnsureDefaults() error {
	for key, value := range defaultSettings {
		_, err := s.getSetting(key)
		if database.IsNotFound(err) {
			if err := s.saveSetting(key, value); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
	}
	if _, err := s.getSetting("serverPrivateKey"); database.IsNotFound(err) {
		keys := KeyService{}
		priv, pub, err := keys.GenerateKeyPair()
		if err != nil {
			return err
		}
		if err := s.saveSetting("serverPrivateKey", priv); err != nil {
			return err
		}
		if err := s.saveSetting("serverPublicKey", pub); err != nil {
			return err
		}
		logger.Info("generated server key pair")
	} else if err != nil {
		return err
	}
	if _, err := s.getSetting("obfuscationKey"); database.IsNotFound(err) {
		if err := s.saveSetting("obfuscationKey", common.RandomKey(obfuscationKeyLength)); err != nil {
			return err
		}
		logger.Info("generated obfuscation key")
	} else if err != nil {
		return err
	}
	if _, err := s.getSetting("externalIp"); database.IsNotFound(err) {
		s.refreshExternalEndpoint()
	} else if err != nil {
		return err
	}
	return nil
}

// refreshExternalEndpoint resolves the public address the panel hands
// to clients: environment first, then a well-known file, then an HTTP
// probe. Failures keep whatever was stored before.
func (s *SettingService) refreshExternalEndpoint() {
	ip := os.Getenv("WGO_EXTERNAL_IP")
	if ip == "" {
		if data, err := os.ReadFile(config.GetExternalIPFile()); err == nil {
			ip = strings.TrimSpace(string(data))
		}
	}
	if ip == "" {
		ip = probeExternalIP()
	}
	if ip != "" {
		if err := s.saveSetting("externalIp", ip); err != nil {
			logger.Warning("save external ip failed:", err)
		}
	} else {
		logger.Warning("external IP could not be determined, client endpoints will be incomplete")
	}
	port := DefaultExternalPort
	if env := os.Getenv("WGO_EXTERNAL_PORT"); env != "" {
		if p, err := strconv.Atoi(env); err == nil && p > 0 && p < 65536 {
			port = p
		} else {
			logger.Warning("ignoring invalid WGO_EXTERNAL_PORT:", env)
		}
	}
	if _, err := s.getSetting("externalPort"); database.IsNotFound(err) {
		if err := s.saveSetting("externalPort", strconv.Itoa(port)); err != nil {
			logger.Warning("save external port failed:", err)
		}
	}
}

func probeExternalIP() string {
	ctx, cancel := context.WithTimeout(context.Background(), externalIPProbePeriod)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, externalIPProbeURL, nil)
	if err != nil {
		return ""
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		logger.Debug("external IP probe failed:", err)
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return ""
	}
	addr := strings.TrimSpace(string(body))
	if addr == "" {
		return ""
	}
	return addr
}

// GetServerConfig loads every server-side setting into one struct.
func (s *SettingService) GetServerConfig() (*ServerConfig, error) {
	cfg := &ServerConfig{}
	var err error
	if cfg.Subnet, err = s.GetString("subnet"); err != nil {
		return nil, err
	}
	if cfg.OwnIP, err = s.getInt("ownIp"); err != nil {
		return nil, err
	}
	if cfg.WGInterface, err = s.GetString("wgInterface"); err != nil {
		return nil, err
	}
	if cfg.WANInterface, err = s.GetString("wanInterface"); err != nil {
		return nil, err
	}
	if cfg.Enabled, err = s.getBool("enabled"); err != nil {
		return nil, err
	}
	if cfg.Obfuscation, err = s.getBool("obfuscation"); err != nil {
		return nil, err
	}
	if cfg.ObfuscationKey, err = s.GetString("obfuscationKey"); err != nil {
		return nil, err
	}
	if cfg.VerbosityLevel, err = s.GetString("verbosityLevel"); err != nil {
		return nil, err
	}
	if cfg.MaskingType, err = s.GetString("maskingType"); err != nil {
		return nil, err
	}
	if cfg.MaskingForced, err = s.getBool("maskingForced"); err != nil {
		return nil, err
	}
	if cfg.serverPrivateKey, err = s.GetString("serverPrivateKey"); err != nil {
		return nil, err
	}
	if cfg.ServerPublicKey, err = s.GetString("serverPublicKey"); err != nil {
		return nil, err
	}
	cfg.ExternalIP, _ = s.GetString("externalIp")
	if cfg.ExternalPort, err = s.getInt("externalPort"); err != nil {
		cfg.ExternalPort = DefaultExternalPort
	}
	return cfg, nil
}

// RegenerateObfuscationKey replaces the shared obfuscation key.
func (s *SettingService) RegenerateObfuscationKey() (string, error) {
	key := common.RandomKey(obfuscationKeyLength)
	if err := s.saveSetting("obfuscationKey", key); err != nil {
		return "", err
	}
	return key, nil
}
