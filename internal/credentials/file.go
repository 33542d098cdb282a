package credentials

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"exchange-core/internal/logger"
	"exchange-core/internal/store"
)

const (
	entropySize = 32
	hkdfInfo    = "exchange-core credential file v1"
)

var (
	errMalformed = errors.New("credential file malformed")
	errEmpty     = errors.New("credential file holds empty values")
)

// File reads and writes the protected credential file: three newline
// separated base64 lines holding entropy, encrypted key and encrypted secret.
// The encryption key is derived from the entropy and the current user
// profile, so a copied file does not decrypt for another user or machine.
type File struct {
	Path string

	profile func() ([]byte, error)
	rand    io.Reader
	log     *logger.Log
}

func NewFile(path string, log *logger.Log) *File {
	return &File{
		Path:    path,
		profile: userProfileSecret,
		rand:    rand.Reader,
		log:     logger.OrNop(log),
	}
}

// Load returns the stored credentials, or false when the file is missing,
// malformed or cannot be decrypted for this user. The caller then runs in
// public-only mode.
func (f *File) Load() (*Credentials, bool) {
	entry := f.log.WithComponent("credentials").WithField("path", f.Path)
	creds, err := f.load()
	if err != nil {
		if os.IsNotExist(err) {
			entry.WithEvent("credentials_absent").Debug("no credential file, public-only mode")
		} else {
			entry.WithEvent("credentials_unreadable").WithError(err).Debug("credential file ignored, public-only mode")
		}
		return nil, false
	}
	entry.WithEvent("credentials_loaded").Debug("credentials loaded")
	return creds, true
}

func (f *File) load() (*Credentials, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, err
	}
	defer wipe(data)
	lines := strings.Split(strings.TrimRight(string(data), "\r\n"), "\n")
	if len(lines) != 3 {
		return nil, fmt.Errorf("%w: %d lines", errMalformed, len(lines))
	}
	parts := make([][]byte, 3)
	for i, line := range lines {
		parts[i], err = base64.StdEncoding.DecodeString(strings.TrimSpace(line))
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", errMalformed, i+1, err)
		}
	}
	if len(parts[0]) != entropySize {
		return nil, fmt.Errorf("%w: entropy size %d", errMalformed, len(parts[0]))
	}
	aead, err := f.deriveAEAD(parts[0])
	if err != nil {
		return nil, err
	}
	key, err := open(aead, parts[1], []byte("key"))
	if err != nil {
		return nil, err
	}
	secret, err := open(aead, parts[2], []byte("secret"))
	if err != nil {
		wipe(key)
		return nil, err
	}
	creds := &Credentials{key: key, secret: secret}
	if !creds.Valid() {
		creds.Zero()
		return nil, errEmpty
	}
	return creds, nil
}

// Save encrypts key and secret under fresh entropy and atomically replaces
// the file with mode 0600.
func (f *File) Save(key, secret string) error {
	if key == "" || secret == "" {
		return errEmpty
	}
	entropy := make([]byte, entropySize)
	if _, err := io.ReadFull(f.rand, entropy); err != nil {
		return fmt.Errorf("read entropy: %w", err)
	}
	aead, err := f.deriveAEAD(entropy)
	if err != nil {
		return err
	}
	encKey, err := seal(aead, f.rand, []byte(key), []byte("key"))
	if err != nil {
		return err
	}
	encSecret, err := seal(aead, f.rand, []byte(secret), []byte("secret"))
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	for _, part := range [][]byte{entropy, encKey, encSecret} {
		buf.WriteString(base64.StdEncoding.EncodeToString(part))
		buf.WriteByte('\n')
	}
	if err := store.WriteFileAtomic(f.Path, buf.Bytes(), 0o600, f.log); err != nil {
		return err
	}
	f.log.WithComponent("credentials").WithEvent("credentials_saved").WithField("path", f.Path).Info("credential file written")
	return nil
}

func (f *File) deriveAEAD(entropy []byte) (cipher.AEAD, error) {
	profile, err := f.profile()
	if err != nil {
		return nil, fmt.Errorf("user profile: %w", err)
	}
	defer wipe(profile)
	derived := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, profile, entropy, []byte(hkdfInfo)), derived); err != nil {
		return nil, err
	}
	defer wipe(derived)
	return chacha20poly1305.New(derived)
}

func seal(aead cipher.AEAD, rnd io.Reader, plaintext, label []byte) ([]byte, error) {
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rnd, nonce); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, label), nil
}

func open(aead cipher.AEAD, blob, label []byte) ([]byte, error) {
	if len(blob) < aead.NonceSize()+aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", errMalformed)
	}
	nonce, ciphertext := blob[:aead.NonceSize()], blob[aead.NonceSize():]
	return aead.Open(nil, nonce, ciphertext, label)
}

// userProfileSecret binds the file to the account and machine it was written on.
func userProfileSecret() ([]byte, error) {
	var b bytes.Buffer
	if u, err := user.Current(); err == nil {
		b.WriteString(u.Username)
		b.WriteByte(0)
		b.WriteString(u.Uid)
		b.WriteByte(0)
		b.WriteString(u.HomeDir)
		b.WriteByte(0)
	} else if home, herr := os.UserHomeDir(); herr == nil {
		b.WriteString(home)
		b.WriteByte(0)
	} else {
		return nil, err
	}
	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		if id, err := os.ReadFile(path); err == nil {
			b.Write(bytes.TrimSpace(id))
			break
		}
	}
	b.WriteByte(0)
	if host, err := os.Hostname(); err == nil {
		b.WriteString(host)
	}
	return b.Bytes(), nil
}

// Load is shorthand for NewFile(path, log).Load().
func Load(path string, log *logger.Log) (*Credentials, bool) {
	return NewFile(path, log).Load()
}

// Save is shorthand for NewFile(path, log).Save(key, secret).
func Save(path, key, secret string, log *logger.Log) error {
	return NewFile(path, log).Save(key, secret)
}
