package sender

import (
	"crypto/sha256"
	"encoding/binary"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/gram-proto/gram/authkey"
)

// DeriveAuxKey derives the authorization key used for an auxiliary
// (non-home) data-center connection from the home DC's key. The full wire
// protocol does this with an auth.exportAuthorization /
// auth.importAuthorization RPC round trip against both DCs; this module's
// CDN-only aux connections instead derive the key locally with
// HKDF-SHA256, keyed by the target DC id, so a CDN fetch never needs an
// extra round trip against the home DC before its first request.
func DeriveAuxKey(homeKey *authkey.AuthKey, dcID int32) (*authkey.AuthKey, error) {
	var info [4]byte
	binary.LittleEndian.PutUint32(info[:], uint32(dcID))

	r := hkdf.New(sha256.New, homeKey.Bytes(), nil, info[:])
	out := make([]byte, 256)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return authkey.NewAuthKey(out)
}
