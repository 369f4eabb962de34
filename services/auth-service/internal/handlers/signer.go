package handlers

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"sort"
	"sync"

	"github.com/md-rashed-zaman/lunchpass/libs/auth"
)

var ErrRotationUnsupported = errors.New("key rotation not supported")

type TokenSigner interface {
	Sign(claims auth.Claims) (string, error)
	Verify(token string) (*auth.Claims, error)
	JWKS() []auth.JWK
	// Activate switches the signing key. Keys already published keep
	// verifying.
	Activate(kid string) error
}

type hs256Signer struct {
	secret string
}

func NewHS256Signer(secret string) TokenSigner {
	return &hs256Signer{secret: secret}
}

func (s *hs256Signer) Sign(claims auth.Claims) (string, error) {
	return auth.SignHS256(claims, s.secret)
}

func (s *hs256Signer) Verify(token string) (*auth.Claims, error) {
	return auth.ParseAndVerifyHS256(token, s.secret)
}

func (s *hs256Signer) JWKS() []auth.JWK { return nil }

func (s *hs256Signer) Activate(string) error { return ErrRotationUnsupported }

// RSASigner signs with one active key out of a set and verifies with any of
// them, so tokens survive a rotation until they expire.
type RSASigner struct {
	mu     sync.RWMutex
	active string
	keys   map[string]*rsa.PrivateKey
}

// NewRSASigner parses every PEM block in pemBlobs. Key ids are derived from
// the public modulus. An empty activeKid picks the first key in the blob.
func NewRSASigner(pemBlobs []byte, activeKid string) (*RSASigner, error) {
	s := &RSASigner{keys: map[string]*rsa.PrivateKey{}}
	first := ""
	rest := pemBlobs
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		key, err := parseRSAPrivateKey(block)
		if err != nil {
			return nil, err
		}
		kid := KeyID(&key.PublicKey)
		if first == "" {
			first = kid
		}
		s.keys[kid] = key
	}
	if len(s.keys) == 0 {
		return nil, errors.New("no rsa private keys found")
	}
	if activeKid == "" {
		activeKid = first
	}
	if err := s.Activate(activeKid); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *RSASigner) Sign(claims auth.Claims) (string, error) {
	s.mu.RLock()
	kid, key := s.active, s.keys[s.active]
	s.mu.RUnlock()
	return auth.SignRS256(claims, key, kid)
}

func (s *RSASigner) Verify(token string) (*auth.Claims, error) {
	header, err := auth.ParseHeader(token)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	key := s.keys[header.Kid]
	s.mu.RUnlock()
	if key == nil {
		return nil, auth.ErrInvalidToken
	}
	return auth.VerifyRS256(token, &key.PublicKey)
}

func (s *RSASigner) JWKS() []auth.JWK {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.JWK, 0, len(s.keys))
	for kid, key := range s.keys {
		out = append(out, auth.PublicJWK(&key.PublicKey, kid))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kid < out[j].Kid })
	return out
}

func (s *RSASigner) Activate(kid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keys[kid] == nil {
		return errors.New("unknown kid")
	}
	s.active = kid
	return nil
}

func (s *RSASigner) ActiveKid() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func parseRSAPrivateKey(block *pem.Block) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		if rsaKey, ok := key.(*rsa.PrivateKey); ok {
			return rsaKey, nil
		}
	}
	return nil, errors.New("unsupported private key")
}

func KeyID(pub *rsa.PublicKey) string {
	sum := sha256.Sum256(pub.N.Bytes())
	return base64.RawURLEncoding.EncodeToString(sum[:8])
}
