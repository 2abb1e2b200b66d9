package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const encryptedPrefix = "enc:"

// ErrBadSecret is returned when a stored password cannot be decrypted on
// this machine.
var ErrBadSecret = errors.New("stored password cannot be decrypted")

// IsEncrypted reports whether value is in the stored encrypted form.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, encryptedPrefix)
}

// hostnameFunc is replaced in tests.
var hostnameFunc = os.Hostname

func secretKey(user string) ([]byte, error) {
	host, err := hostnameFunc()
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	sum := sha256.Sum256([]byte("lazyscc:" + host + ":" + user))
	return sum[:], nil
}

// EncryptPassword seals password with a key bound to this host and user.
func EncryptPassword(password, user string) (string, error) {
	key, err := secretKey(user)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, []byte(password), nil)
	return encryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptPassword reverses EncryptPassword. Values without the encrypted
// prefix are returned unchanged.
func DecryptPassword(value, user string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, encryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrBadSecret, err)
	}
	key, err := secretKey(user)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(raw) < gcm.NonceSize() {
		return "", ErrBadSecret
	}
	plain, err := gcm.Open(nil, raw[:gcm.NonceSize()], raw[gcm.NonceSize():], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrBadSecret, err)
	}
	return string(plain), nil
}

// SavePassword encrypts password and writes it, with user, into the YAML
// config file at path. Other keys in the file are kept.
func SavePassword(path, user, password string) error {
	if path == "" {
		path = filepath.Join(ConfigDir(), "config.yaml")
	}
	data := map[string]any{}
	// #nosec G304 -- path is the user's own config file
	if raw, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(raw, &data); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if data == nil {
			data = map[string]any{}
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	sealed, err := EncryptPassword(password, user)
	if err != nil {
		return err
	}
	data["user"] = user
	data["password"] = sealed

	out, err := yaml.Marshal(data)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o600)
}
