// Package crypto mints and verifies the session resume tokens handed to
// clients. A token is a fernet-signed wrapper around the internal session ID,
// so clients can never forge or tamper with an ID, and stale tokens expire
// on their own even if the registry entry is long gone.
package crypto

import (
	"fmt"
	"time"

	"github.com/ablylabs/termbridge/internal/database"
	"github.com/fernet/fernet-go"
)

const keySettingName = "fernet_key"

func getKey() (*fernet.Key, error) {
	keyStr, err := database.GetSetting(keySettingName)
	if err != nil {
		// Generate new key
		var k fernet.Key
		if err := k.Generate(); err != nil {
			return nil, fmt.Errorf("generate fernet key: %w", err)
		}
		keyStr = k.Encode()
		if err := database.SetSetting(keySettingName, keyStr); err != nil {
			return nil, fmt.Errorf("save fernet key: %w", err)
		}
		return &k, nil
	}

	key, err := fernet.DecodeKey(keyStr)
	if err != nil {
		return nil, fmt.Errorf("decode fernet key: %w", err)
	}
	return key, nil
}

// MintSessionToken wraps the internal session ID in a signed token suitable
// for handing to a client.
func MintSessionToken(sessionID string) (string, error) {
	key, err := getKey()
	if err != nil {
		return "", err
	}
	tok, err := fernet.EncryptAndSign([]byte(sessionID), key)
	if err != nil {
		return "", fmt.Errorf("mint session token: %w", err)
	}
	return string(tok), nil
}

// VerifySessionToken validates a client-presented token and returns the
// session ID it wraps. Tokens older than ttl are rejected; a non-positive
// ttl disables the age check.
func VerifySessionToken(token string, ttl time.Duration) (string, error) {
	key, err := getKey()
	if err != nil {
		return "", err
	}
	if ttl <= 0 {
		// fernet skips the age check only for negative TTLs.
		ttl = -1
	}
	msg := fernet.VerifyAndDecrypt([]byte(token), ttl, []*fernet.Key{key})
	if msg == nil {
		return "", fmt.Errorf("invalid session token")
	}
	return string(msg), nil
}
