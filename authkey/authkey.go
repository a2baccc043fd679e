package authkey

import (
	"crypto/sha1"

	"github.com/awnumar/memguard"
)

// AuthKey is the 256-byte shared secret produced by the handshake and its
// derived 8-byte key_id (the low 64 bits of its SHA-1 digest). It is
// immutable once created and never appears on the wire again; the
// underlying bytes live in a memguard.LockedBuffer so they're excluded from
// core dumps and zeroed on Destroy.
type AuthKey struct {
	buf   *memguard.LockedBuffer
	keyID uint64
}

// NewAuthKey copies raw (must be 256 bytes) into locked memory and computes
// its key_id.
func NewAuthKey(raw []byte) (*AuthKey, error) {
	if len(raw) != 256 {
		return nil, errAuthKeyLength
	}
	buf := memguard.NewBuffer(256)
	copy(buf.Bytes(), raw)

	sum := sha1.Sum(raw)
	var keyID uint64
	for i := 0; i < 8; i++ {
		keyID |= uint64(sum[12+i]) << (8 * i)
	}
	return &AuthKey{buf: buf, keyID: keyID}, nil
}

// Bytes returns the 256-byte secret. The returned slice aliases locked
// memory and must not be retained past the AuthKey's lifetime.
func (k *AuthKey) Bytes() []byte { return k.buf.Bytes() }

// KeyID returns the low 64 bits of SHA1(auth_key), used as auth_key_id on
// the wire.
func (k *AuthKey) KeyID() uint64 { return k.keyID }

// Destroy zeroes and releases the underlying locked memory. Callers must
// not use the AuthKey afterward.
func (k *AuthKey) Destroy() { k.buf.Destroy() }

var errAuthKeyLength = authKeyLengthError{}

type authKeyLengthError struct{}

func (authKeyLengthError) Error() string { return "authkey: key must be exactly 256 bytes" }
