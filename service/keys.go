package service

import (
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

type KeyService struct{}

// GenerateKeyPair returns a fresh Curve25519 key pair in base64 form.
func (s *KeyService) GenerateKeyPair() (privateKey string, publicKey string, err error) {
	key, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return "", "", err
	}
	return key.String(), key.PublicKey().String(), nil
}
