package xcrypto

import "crypto/sha1"

// HandshakeKeyIV derives the AES-256-IGE key/IV pair used to wrap the
// server's answer during steps 2 and 3 of the handshake, from new_nonce (32
// bytes) and server_nonce (16 bytes):
//
//	key = SHA1(new_nonce || server_nonce) || SHA1(server_nonce || new_nonce)[0:12]
//	iv  = SHA1(server_nonce || new_nonce)[12:20] || SHA1(new_nonce || new_nonce) || new_nonce[0:4]
func HandshakeKeyIV(newNonce [32]byte, serverNonce [16]byte) (key, iv [32]byte) {
	h1 := sha1.Sum(concat(newNonce[:], serverNonce[:]))
	h2 := sha1.Sum(concat(serverNonce[:], newNonce[:]))
	h3 := sha1.Sum(concat(newNonce[:], newNonce[:]))

	copy(key[0:20], h1[:])
	copy(key[20:32], h2[0:12])

	copy(iv[0:8], h2[12:20])
	copy(iv[8:28], h3[:])
	copy(iv[28:32], newNonce[0:4])

	return key, iv
}

func concat(a, b []byte) []byte {
	out := make([]byte, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return out
}

// SHA1Sum is a thin wrapper kept for call-site clarity where the 20-byte
// digest itself (not a derived key) is what's needed, e.g. verifying the
// inner-data hash embedded at the front of a decrypted DH answer.
func SHA1Sum(b []byte) [20]byte { return sha1.Sum(b) }
