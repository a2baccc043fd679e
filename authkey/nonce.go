package authkey

import "crypto/sha1"

// serverDHParamsFailHash verifies the new_nonce_hash carried by a
// ServerDHParamsFail: the lower 128 bits of SHA1(new_nonce), with no tag or
// auth-key material since no shared secret exists yet at this point in the
// handshake.
func serverDHParamsFailHash(newNonce [32]byte) [16]byte {
	sum := sha1.Sum(newNonce[:])
	var out [16]byte
	copy(out[:], sum[4:20])
	return out
}

// authKeyAuxHash is the first 8 bytes of SHA1 over the 256-byte big-endian
// representation of the shared secret gab, used as the tag-dependent input
// to the three DhGen result hashes.
func authKeyAuxHash(gabBytes []byte) [8]byte {
	sum := sha1.Sum(gabBytes)
	var out [8]byte
	copy(out[:], sum[0:8])
	return out
}

// dhGenNonceHash computes the lower 128 bits of SHA1(new_nonce || tag ||
// auth_key_aux_hash), the formula shared by DhGenOk (tag 1), DhGenRetry
// (tag 2) and DhGenFail (tag 3) for verifying the server's acknowledgement
// without re-deriving gab over the wire.
func dhGenNonceHash(tag byte, newNonce [32]byte, aux [8]byte) [16]byte {
	h := sha1.New()
	h.Write(newNonce[:])
	h.Write([]byte{tag})
	h.Write(aux[:])
	sum := h.Sum(nil)
	var out [16]byte
	copy(out[:], sum[4:20])
	return out
}
