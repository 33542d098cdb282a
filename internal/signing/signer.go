package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"hash"
	"strings"
)

type Encoding int

const (
	HexLower Encoding = iota
	HexUpper
	Base64
)

// Signer produces a keyed-hash signature over a canonical request string.
// It holds its own copy of the secret.
type Signer struct {
	newHash  func() hash.Hash
	secret   []byte
	encoding Encoding
}

func NewHMACSHA256(secret []byte, enc Encoding) *Signer {
	return newSigner(sha256.New, secret, enc)
}

func NewHMACSHA512(secret []byte, enc Encoding) *Signer {
	return newSigner(sha512.New, secret, enc)
}

func newSigner(h func() hash.Hash, secret []byte, enc Encoding) *Signer {
	return &Signer{
		newHash:  h,
		secret:   append([]byte(nil), secret...),
		encoding: enc,
	}
}

func (s *Signer) Sign(canonical string) string {
	mac := hmac.New(s.newHash, s.secret)
	mac.Write([]byte(canonical))
	sum := mac.Sum(nil)
	switch s.encoding {
	case HexUpper:
		return strings.ToUpper(hex.EncodeToString(sum))
	case Base64:
		return base64.StdEncoding.EncodeToString(sum)
	default:
		return hex.EncodeToString(sum)
	}
}

// Zero wipes the signer's copy of the secret. Sign must not be called after.
func (s *Signer) Zero() {
	if s == nil {
		return
	}
	for i := range s.secret {
		s.secret[i] = 0
	}
	s.secret = nil
}
