package service

import (
	"encoding/json"
	"net/netip"
	"regexp"

	"github.com/clusterw/wgo-ui/database"
	"github.com/clusterw/wgo-ui/database/model"
	"github.com/clusterw/wgo-ui/util/common"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,64}$`)

type PeerService struct{}

func (s *PeerService) GetAll() ([]model.Peer, error) {
	db := database.GetDB()
	var peers []model.Peer
	err := db.Model(model.Peer{}).Order("id asc").Find(&peers).Error
	if err != nil {
		return nil, err
	}
	return peers, nil
}

func (s *PeerService) Get(username string) (*model.Peer, error) {
	db := database.GetDB()
	peer := &model.Peer{}
	err := db.Model(model.Peer{}).Where("username = ?", username).First(peer).Error
	if database.IsNotFound(err) {
		return nil, common.NewErrorf("%w: peer %q", ErrNotFound, username)
	}
	if err != nil {
		return nil, err
	}
	return peer, nil
}

func (s *PeerService) Exists(username string) (bool, error) {
	db := database.GetDB()
	var count int64
	err := db.Model(model.Peer{}).Where("username = ?", username).Count(&count).Error
	return count > 0, err
}

func (s *PeerService) Save(peer *model.Peer) error {
	return database.GetDB().Save(peer).Error
}

func (s *PeerService) Create(peer *model.Peer) error {
	return database.GetDB().Create(peer).Error
}

func (s *PeerService) Delete(username string) error {
	return database.GetDB().Where("username = ?", username).Delete(model.Peer{}).Error
}

func (s *PeerService) UsedIPs() ([]int, error) {
	db := database.GetDB()
	var ips []int
	err := db.Model(model.Peer{}).Pluck("ip", &ips).Error
	return ips, err
}

func ValidateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return common.NewErrorf("%w: invalid username %q", ErrValidation, username)
	}
	return nil
}

// ValidateAllowedIPs checks a client routing list: non-empty, every
// entry a canonical CIDR.
func ValidateAllowedIPs(list []string) error {
	if len(list) == 0 {
		return common.NewErrorf("%w: allowed IPs must not be empty", ErrValidation)
	}
	for _, entry := range list {
		prefix, err := netip.ParsePrefix(entry)
		if err != nil {
			return common.NewErrorf("%w: invalid CIDR %q", ErrValidation, entry)
		}
		if prefix != prefix.Masked() {
			return common.NewErrorf("%w: CIDR %q has host bits set", ErrValidation, entry)
		}
	}
	return nil
}

func ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return common.NewErrorf("%w: port %d out of range", ErrValidation, port)
	}
	return nil
}

func MarshalAllowedIPs(list []string) (json.RawMessage, error) {
	if err := ValidateAllowedIPs(list); err != nil {
		return nil, err
	}
	return json.Marshal(list)
}
