package service

import (
	"sync"
	"time"

	"github.com/clusterw/wgo-ui/database"
	"github.com/clusterw/wgo-ui/database/model"
	"github.com/gofrs/uuid/v5"
)

// TokenService issues and validates bearer tokens. Tokens are opaque
// UUIDs with a fixed lifetime; changing the admin password revokes all
// of them.
type TokenService struct {
	SettingService
}

func (s *TokenService) Issue() (*model.Token, error) {
	maxAge, err := s.GetSessionMaxAge()
	if err != nil {
		return nil, err
	}
	token := &model.Token{
		Token:     uuid.Must(uuid.NewV4()).String(),
		CreatedAt: time.Now().Unix(),
		ExpiresIn: int64(maxAge),
	}
	if err := database.GetDB().Create(token).Error; err != nil {
		return nil, err
	}
	return token, nil
}

// Validate checks a presented token. Expired tokens are removed on the
// spot.
func (s *TokenService) Validate(value string) error {
	db := database.GetDB()
	token := &model.Token{}
	err := db.Model(model.Token{}).Where("token = ?", value).First(token).Error
	if database.IsNotFound(err) {
		return ErrAuth
	}
	if err != nil {
		return err
	}
	if time.Now().Unix() >= token.CreatedAt+token.ExpiresIn {
		db.Delete(token)
		return ErrAuth
	}
	return nil
}

func (s *TokenService) Revoke(value string) error {
	return database.GetDB().Where("token = ?", value).Delete(model.Token{}).Error
}

func (s *TokenService) RevokeAll() error {
	return database.GetDB().Where("1 = 1").Delete(model.Token{}).Error
}

// CleanupExpired removes tokens past their lifetime.
func (s *TokenService) CleanupExpired() (int64, error) {
	result := database.GetDB().
		Where("created_at + expires_in <= ?", time.Now().Unix()).
		Delete(model.Token{})
	return result.RowsAffected, result.Error
}

// LoginLimiter counts recent failed attempts per remote identity so
// the API can throttle brute forcing.
type LoginLimiter struct {
	mu       sync.Mutex
	window   time.Duration
	attempts map[string][]time.Time
}

func NewLoginLimiter(window time.Duration) *LoginLimiter {
	return &LoginLimiter{
		window:   window,
		attempts: make(map[string][]time.Time),
	}
}

func (l *LoginLimiter) Record(identity string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts[identity] = append(l.prune(identity), time.Now())
}

func (l *LoginLimiter) Count(identity string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	recent := l.prune(identity)
	if len(recent) == 0 {
		delete(l.attempts, identity)
	} else {
		l.attempts[identity] = recent
	}
	return len(recent)
}

func (l *LoginLimiter) Clear(identity string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, identity)
}

func (l *LoginLimiter) prune(identity string) []time.Time {
	cutoff := time.Now().Add(-l.window)
	var recent []time.Time
	for _, t := range l.attempts[identity] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	return recent
}
