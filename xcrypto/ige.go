// Package xcrypto implements the handful of primitives the wire protocol is
// hard-pinned to: AES-256 in Infinite Garble Extension mode, the SHA-1/
// SHA-256 key-derivation recipes used to compute msg_key and the AES
// key/IV, the RSA-OAEP variant used during handshake, and Pollard-rho
// factorization of the handshake's semiprime.
package xcrypto

import (
	"crypto/sha256"
	"errors"

	"gitlab.com/yawning/bsaes.git"
)

// ErrBadIGEInput is returned when a ciphertext or plaintext isn't a multiple
// of the AES block size, or a key/IV isn't exactly the expected length.
var ErrBadIGEInput = errors.New("xcrypto: input not a multiple of the AES block size")

const blockSize = 16

// IGEEncrypt encrypts plaintext with AES-256 in Infinite Garble Extension
// mode. key must be 32 bytes; iv must be 32 bytes (the concatenation of the
// two 16-byte IV halves). len(plaintext) must be a multiple of 16.
//
// The block primitive comes from gitlab.com/yawning/bsaes.git, a
// constant-time AES-256 implementation; IGE chaining itself has no library —
// no ecosystem package implements this mode, since it is specific to this
// wire protocol — so it is implemented here directly.
func IGEEncrypt(key, iv, plaintext []byte) ([]byte, error) {
	return ige(key, iv, plaintext, true)
}

// IGEDecrypt decrypts ciphertext with AES-256 in IGE mode. See IGEEncrypt
// for parameter requirements.
func IGEDecrypt(key, iv, ciphertext []byte) ([]byte, error) {
	return ige(key, iv, ciphertext, false)
}

func ige(key, iv, input []byte, encrypt bool) ([]byte, error) {
	if len(key) != 32 || len(iv) != 32 {
		return nil, ErrBadIGEInput
	}
	if len(input)%blockSize != 0 || len(input) == 0 {
		return nil, ErrBadIGEInput
	}
	block, err := bsaes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(input))
	prevCipher := make([]byte, blockSize)
	prevPlain := make([]byte, blockSize)
	if encrypt {
		copy(prevCipher, iv[:blockSize])
		copy(prevPlain, iv[blockSize:])
	} else {
		copy(prevPlain, iv[:blockSize])
		copy(prevCipher, iv[blockSize:])
	}

	var xored, result [blockSize]byte
	for off := 0; off < len(input); off += blockSize {
		chunk := input[off : off+blockSize]
		if encrypt {
			xorInto(xored[:], chunk, prevCipher)
			block.Encrypt(result[:], xored[:])
			xorInto(result[:], result[:], prevPlain)
			copy(out[off:off+blockSize], result[:])
			copy(prevCipher, result[:])
			copy(prevPlain, chunk)
		} else {
			xorInto(xored[:], chunk, prevPlain)
			block.Decrypt(result[:], xored[:])
			xorInto(result[:], result[:], prevCipher)
			copy(out[off:off+blockSize], result[:])
			copy(prevCipher, chunk)
			copy(prevPlain, result[:])
		}
	}
	return out, nil
}

func xorInto(dst, a, b []byte) {
	for i := range dst {
		dst[i] = a[i] ^ b[i]
	}
}

// MsgKeyOffset selects which 32-byte slice of auth_key is hashed alongside
// the plaintext/ciphertext to compute msg_key: 88 for outbound
// (client-to-server), 96 for inbound.
type MsgKeyOffset int

const (
	MsgKeyOffsetOutbound MsgKeyOffset = 88
	MsgKeyOffsetInbound  MsgKeyOffset = 96
)

// ComputeMsgKey returns the middle 128 bits of SHA-256(authKey[offset:offset+32] || data).
func ComputeMsgKey(authKey, data []byte, offset MsgKeyOffset) ([16]byte, error) {
	var out [16]byte
	if len(authKey) != 256 {
		return out, errors.New("xcrypto: auth key must be 256 bytes")
	}
	o := int(offset)
	if o < 0 || o+32 > len(authKey) {
		return out, errors.New("xcrypto: msg key offset out of range")
	}
	h := sha256.New()
	h.Write(authKey[o : o+32])
	h.Write(data)
	sum := h.Sum(nil)
	copy(out[:], sum[8:24])
	return out, nil
}

// DeriveKeyIV computes the AES key and IV used to wrap an MTP payload, from
// auth_key, msg_key and a direction-dependent offset (the same offset used
// for ComputeMsgKey), by a fixed SHA-256 recipe:
//
//	sha_a = SHA256(msg_key || auth_key[x : x+36])
//	sha_b = SHA256(auth_key[x+40 : x+76] || msg_key)
//	key   = sha_a[0:8]  || sha_b[8:24] || sha_a[24:32]
//	iv    = sha_b[0:8]  || sha_a[8:24] || sha_b[24:32]
func DeriveKeyIV(authKey []byte, msgKey [16]byte, offset MsgKeyOffset) (key, iv [32]byte, err error) {
	if len(authKey) != 256 {
		return key, iv, errors.New("xcrypto: auth key must be 256 bytes")
	}
	x := int(offset)
	shaA := sha256.New()
	shaA.Write(msgKey[:])
	shaA.Write(authKey[x : x+36])
	a := shaA.Sum(nil)

	shaB := sha256.New()
	shaB.Write(authKey[x+40 : x+76])
	shaB.Write(msgKey[:])
	b := shaB.Sum(nil)

	copy(key[0:8], a[0:8])
	copy(key[8:24], b[8:24])
	copy(key[24:32], a[24:32])

	copy(iv[0:8], b[0:8])
	copy(iv[8:24], a[8:24])
	copy(iv[24:32], b[24:32])

	return key, iv, nil
}
