package service

import (
	"os"

	"github.com/clusterw/wgo-ui/database"
	"github.com/clusterw/wgo-ui/logger"
	"github.com/clusterw/wgo-ui/util/common"
	"golang.org/x/crypto/bcrypt"
)

const defaultAdminUser = "admin"

// UserService manages the single admin account. The password is only
// ever stored as a bcrypt hash.
type UserService struct {
	SettingService
	TokenService
}

// EnsureAdmin creates the admin account on first start. Initial
// credentials can be injected through the environment.
func (s *UserService) EnsureAdmin() error {
	_, err := s.getSetting("adminUsername")
	if err == nil {
		return nil
	}
	if !database.IsNotFound(err) {
		return err
	}
	username := os.Getenv("WGO_ADMIN_USER")
	if username == "" {
		username = defaultAdminUser
	}
	password := os.Getenv("WGO_ADMIN_PASSWORD")
	if password == "" {
		password = common.RandomKey(12)
		logger.Infof("generated admin credentials: %s / %s", username, password)
	}
	return s.setCredentials(username, password)
}

func (s *UserService) setCredentials(username string, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := s.saveSetting("adminUsername", username); err != nil {
		return err
	}
	return s.saveSetting("adminPasswordHash", string(hash))
}

func (s *UserService) GetUsername() (string, error) {
	return s.getSetting("adminUsername")
}

// CheckCredentials verifies a login attempt.
func (s *UserService) CheckCredentials(username string, password string) error {
	storedUser, err := s.getSetting("adminUsername")
	if err != nil {
		return err
	}
	hash, err := s.getSetting("adminPasswordHash")
	if err != nil {
		return err
	}
	if username != storedUser {
		return ErrAuth
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return ErrAuth
	}
	return nil
}

// ChangePassword verifies the old password, stores the new one and
// revokes every issued token.
func (s *UserService) ChangePassword(username string, oldPassword string, newPassword string) error {
	if err := s.CheckCredentials(username, oldPassword); err != nil {
		return err
	}
	if len(newPassword) < 6 {
		return common.NewErrorf("%w: password too short", ErrValidation)
	}
	if err := s.setCredentials(username, newPassword); err != nil {
		return err
	}
	if err := s.RevokeAll(); err != nil {
		return err
	}
	logger.Info("admin password changed, sessions revoked")
	return nil
}

// ResetCredentials overwrites the admin account, used by the CLI.
func (s *UserService) ResetCredentials(username string, password string) error {
	if username == "" || password == "" {
		return common.NewErrorf("%w: username and password required", ErrValidation)
	}
	if err := s.setCredentials(username, password); err != nil {
		return err
	}
	return s.RevokeAll()
}
