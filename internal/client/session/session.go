package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	appDir      = "cldzchat"
	sessionFile = "session"
	keyInfo     = "cldzchat local vault v1"
)

// ErrNotFound is returned when a vault entry does not exist.
var ErrNotFound = errors.New("vault entry not found")

// Session is the authenticated identity the socket connection is keyed by.
type Session struct {
	ServerURL string `json:"server_url"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
}

func GetConfigDir(profileName string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", appDir, profileName)
}

func machineSecret() []byte {
	paths := []string{"/etc/machine-id", "/var/lib/dbus/machine-id"}
	var id string
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err == nil {
			id = strings.TrimSpace(string(data))
			break
		}
	}

	if id == "" {
		hostname, _ := os.Hostname()
		id = hostname
	}
	return []byte(id)
}

func getEncryptionKey() ([]byte, error) {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, machineSecret(), nil, []byte(keyInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

func newGCM() (cipher.AEAD, error) {
	key, err := getEncryptionKey()
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func encrypt(data []byte) (string, error) {
	gcm, err := newGCM()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, data, nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func decrypt(encoded string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM()
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// Vault stores named, encrypted blobs as files in one directory.
type Vault struct {
	dir string
}

func NewVault(dir string) *Vault {
	return &Vault{dir: dir}
}

// OpenVault returns the vault of a profile's config directory.
func OpenVault(profileName string) (*Vault, error) {
	dir := GetConfigDir(profileName)
	if dir == "" {
		return nil, fmt.Errorf("could not get config directory")
	}
	return NewVault(dir), nil
}

func (v *Vault) path(name string) string {
	return filepath.Join(v.dir, name+".json")
}

func (v *Vault) Put(name string, data []byte) error {
	if err := os.MkdirAll(v.dir, 0700); err != nil {
		return err
	}
	encrypted, err := encrypt(data)
	if err != nil {
		return err
	}
	return os.WriteFile(v.path(name), []byte(encrypted), 0600)
}

func (v *Vault) Get(name string) ([]byte, error) {
	data, err := os.ReadFile(v.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	plain, err := decrypt(string(data))
	if err != nil {
		return nil, fmt.Errorf("decrypt %s: %w", name, err)
	}
	return plain, nil
}

func (v *Vault) Delete(name string) error {
	err := os.Remove(v.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func Load(profileName string) *Session {
	vault, err := OpenVault(profileName)
	if err != nil {
		return nil
	}

	data, err := vault.Get(sessionFile)
	if err != nil {
		return nil
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	return &s
}

func Save(profileName string, s Session) error {
	vault, err := OpenVault(profileName)
	if err != nil {
		return err
	}

	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return vault.Put(sessionFile, data)
}

func Clear(profileName string) {
	if vault, err := OpenVault(profileName); err == nil {
		vault.Delete(sessionFile)
	}
}
