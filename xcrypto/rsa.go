package xcrypto

import (
	"crypto/rand"
	"crypto/sha1"
	"errors"
	"math/big"

	"github.com/gram-proto/gram/tl"
)

// RSAModulusBytes is the size of the 2048-bit server keys used during
// handshake.
const RSAModulusBytes = 256

// ErrRSADataTooLarge is returned when the plaintext block (hash + data)
// doesn't leave room for at least one byte of padding.
var ErrRSADataTooLarge = errors.New("xcrypto: data too large for RSA modulus")

const rsaConstructorID tl.ConstructorID = 0x34c4f23d

// RSAPublicKey is a handshake-time server public key, {n, e}, matched by a
// hard-coded fingerprint rather than a certificate chain.
type RSAPublicKey struct {
	N *big.Int
	E *big.Int
}

func (k *RSAPublicKey) ConstructorID() tl.ConstructorID { return rsaConstructorID }

func (k *RSAPublicKey) Serialize(w *tl.Writer) {
	w.PutBytes(k.N.Bytes())
	w.PutBytes(k.E.Bytes())
}

// Fingerprint returns the lower 64 bits of SHA-1 over the canonical
// serialization of the key, used by the client to pick a server key it
// recognizes out of the handful ResPQ offers.
func (k *RSAPublicKey) Fingerprint() uint64 {
	w := tl.NewWriter(0)
	k.Serialize(w)
	sum := sha1.Sum(w.Bytes())
	return uint64(sum[12]) | uint64(sum[13])<<8 | uint64(sum[14])<<16 | uint64(sum[15])<<24 |
		uint64(sum[16])<<32 | uint64(sum[17])<<40 | uint64(sum[18])<<48 | uint64(sum[19])<<56
}

// RSAEncrypt implements the handshake's OAEP-like padding: the ciphertext is
// RSA(SHA1(data) || data || random_padding), the whole plaintext block sized
// to exactly fill the modulus. If the resulting integer would be >= N (and
// so wrap during modexp, corrupting the message) the padding is redrawn.
func RSAEncrypt(pub *RSAPublicKey, data []byte) ([]byte, error) {
	const hashLen = sha1.Size
	if len(data)+hashLen+1 > RSAModulusBytes {
		return nil, ErrRSADataTooLarge
	}
	hash := sha1.Sum(data)

	block := make([]byte, RSAModulusBytes)
	for attempt := 0; attempt < 64; attempt++ {
		copy(block, hash[:])
		copy(block[hashLen:], data)
		padding := block[hashLen+len(data):]
		if _, err := rand.Read(padding); err != nil {
			return nil, err
		}

		m := new(big.Int).SetBytes(block)
		if m.Cmp(pub.N) >= 0 {
			continue // redraw padding; m must be < N for modexp to be invertible as intended
		}
		c := new(big.Int).Exp(m, pub.E, pub.N)
		out := c.Bytes()
		if len(out) < RSAModulusBytes {
			padded := make([]byte, RSAModulusBytes)
			copy(padded[RSAModulusBytes-len(out):], out)
			out = padded
		}
		return out, nil
	}
	return nil, errors.New("xcrypto: failed to find valid RSA padding")
}
