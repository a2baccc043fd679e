package authkey

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math/big"
	"time"

	"github.com/gram-proto/gram/mtproto/plainconn"
	"github.com/gram-proto/gram/tl"
	"github.com/gram-proto/gram/xcrypto"
)

// Result is everything a successful handshake establishes: the key itself,
// the clock correction needed for future msg_id
// allocation, and the first server salt (which is folded for free out of
// nonce material already on hand, with no extra round trip).
type Result struct {
	Key        *AuthKey
	TimeOffset int64
	FirstSalt  int64
}

// ErrNoRecognizedKey is returned when none of the fingerprints ResPQ offers
// matches a key in knownKeys.
var ErrNoRecognizedKey = fmt.Errorf("authkey: server offered no recognized RSA key")

// ErrServerDHParamsFail is returned when the server responds to
// req_DH_params with server_DH_params_fail.
var ErrServerDHParamsFail = fmt.Errorf("authkey: server_DH_params_fail")

// ErrDhGenRetry is returned when the server responds to set_client_DH_params
// with dh_gen_retry; the client retries step 3 with a fresh b.
var ErrDhGenRetry = fmt.Errorf("authkey: dh_gen_retry")

// ErrDhGenFail is returned when the server responds with dh_gen_fail.
var ErrDhGenFail = fmt.Errorf("authkey: dh_gen_fail")

// ErrNonceMismatch is returned whenever a reply's nonce or server_nonce
// doesn't match the value the client sent; every step is checked before its
// payload is trusted.
var ErrNonceMismatch = fmt.Errorf("authkey: nonce mismatch")

// ErrBadAnswerHash is returned when the SHA1 prefix embedded in a decrypted
// DH answer doesn't match the bytes that follow it.
var ErrBadAnswerHash = fmt.Errorf("authkey: bad answer hash")

// ErrWeakDHParams is returned when g, g_a or dh_prime fail the bounds check
// that rules out a small-subgroup attack.
var ErrWeakDHParams = fmt.Errorf("authkey: dh parameters out of bounds")

// ErrBadDhGenHash is returned when the server's dh_gen_ok/retry/fail
// new_nonce_hash doesn't match the client's own computation.
var ErrBadDhGenHash = fmt.Errorf("authkey: bad dh_gen hash")

const maxDHGenRetries = 8

// CreateKey runs the four-step handshake over conn and returns the derived
// key. knownKeys is the set of RSA public keys this client trusts; the
// handshake fails with ErrNoRecognizedKey if the server offers none of them.
func CreateKey(conn *plainconn.PlainConn, knownKeys []*xcrypto.RSAPublicKey) (*Result, error) {
	var nonce [16]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}

	res, err := step1(conn, nonce)
	if err != nil {
		return nil, err
	}

	pub, err := selectKey(res.Fingerprints, knownKeys)
	if err != nil {
		return nil, err
	}

	var newNonce [32]byte
	if _, err := rand.Read(newNonce[:]); err != nil {
		return nil, err
	}

	inner, err := step2(conn, nonce, res.ServerNonce, res.PQ, pub, newNonce)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxDHGenRetries; attempt++ {
		result, retry, err := step3(conn, nonce, res.ServerNonce, newNonce, inner)
		if retry {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, fmt.Errorf("authkey: exhausted dh_gen_retry attempts")
}

func step1(conn *plainconn.PlainConn, nonce [16]byte) (*resPQ, error) {
	w := tl.NewWriter(20)
	(&reqPQMulti{Nonce: nonce}).serialize(w)
	if err := conn.WriteMessage(w.Bytes()); err != nil {
		return nil, err
	}
	body, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	res, err := decodeResPQ(tl.NewReader(body))
	if err != nil {
		return nil, err
	}
	if res.Nonce != nonce {
		return nil, ErrNonceMismatch
	}
	return res, nil
}

func selectKey(fingerprints []uint64, knownKeys []*xcrypto.RSAPublicKey) (*xcrypto.RSAPublicKey, error) {
	byFingerprint := make(map[uint64]*xcrypto.RSAPublicKey, len(knownKeys))
	for _, k := range knownKeys {
		byFingerprint[k.Fingerprint()] = k
	}
	for _, fp := range fingerprints {
		if k, ok := byFingerprint[fp]; ok {
			return k, nil
		}
	}
	return nil, ErrNoRecognizedKey
}

// step2 performs the pq factorization, RSA-encrypts pq_inner_data, sends
// req_DH_params, and decrypts+validates the server's answer, returning the
// recovered serverDHInnerData for step3 to consume.
func step2(conn *plainconn.PlainConn, nonce, serverNonce [16]byte, pqBytes []byte, pub *xcrypto.RSAPublicKey, newNonce [32]byte) (*serverDHInnerData, error) {
	if len(pqBytes) > 8 {
		return nil, tl.ErrInvalidData
	}
	var pqPadded [8]byte
	copy(pqPadded[8-len(pqBytes):], pqBytes)
	pq := binary.BigEndian.Uint64(pqPadded[:])

	p, q, err := xcrypto.Factorize(pq)
	if err != nil {
		return nil, err
	}
	pBytes := trimmedBigEndian(p)
	qBytes := trimmedBigEndian(q)

	inner := &pqInnerData{
		PQ:          pqBytes,
		P:           pBytes,
		Q:           qBytes,
		Nonce:       nonce,
		ServerNonce: serverNonce,
		NewNonce:    newNonce,
	}
	iw := tl.NewWriter(256)
	inner.serialize(iw)
	encrypted, err := xcrypto.RSAEncrypt(pub, iw.Bytes())
	if err != nil {
		return nil, err
	}

	req := &reqDHParams{
		Nonce:         nonce,
		ServerNonce:   serverNonce,
		P:             pBytes,
		Q:             qBytes,
		Fingerprint:   pub.Fingerprint(),
		EncryptedData: encrypted,
	}
	rw := tl.NewWriter(64 + len(encrypted))
	req.serialize(rw)
	if err := conn.WriteMessage(rw.Bytes()); err != nil {
		return nil, err
	}

	body, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	dhParams, err := decodeServerDHParams(tl.NewReader(body))
	if err != nil {
		return nil, err
	}
	if dhParams.Nonce != nonce || dhParams.ServerNonce != serverNonce {
		return nil, ErrNonceMismatch
	}
	if !dhParams.Ok {
		if dhParams.NewNonceHash != serverDHParamsFailHash(newNonce) {
			return nil, ErrBadDhGenHash
		}
		return nil, ErrServerDHParamsFail
	}

	key, iv := xcrypto.HandshakeKeyIV(newNonce, serverNonce)
	plain, err := xcrypto.IGEDecrypt(key[:], iv[:], dhParams.EncryptedAnswer)
	if err != nil {
		return nil, err
	}
	if len(plain) < 20 {
		return nil, tl.ErrInvalidData
	}
	wantHash := plain[:20]

	r := tl.NewReader(plain[20:])
	serverInner, err := decodeServerDHInnerData(r)
	if err != nil {
		return nil, err
	}
	consumed := plain[20 : 20+r.Pos()]
	gotHash := xcrypto.SHA1Sum(consumed)
	if !bytesEqual(gotHash[:], wantHash) {
		return nil, ErrBadAnswerHash
	}
	if serverInner.Nonce != nonce || serverInner.ServerNonce != serverNonce {
		return nil, ErrNonceMismatch
	}
	if err := checkDHParamBounds(serverInner.G, serverInner.DHPrime, serverInner.GA); err != nil {
		return nil, err
	}
	return serverInner, nil
}

// checkDHParamBounds enforces 1 < g, g_a < dh_prime - 1 and the tighter
// requirement that g_a lie in (2^(2048-64), dh_prime - 2^(2048-64)), guarding
// against a server trying to force the shared secret into a small subgroup.
func checkDHParamBounds(g int32, dhPrimeBytes, gaBytes []byte) error {
	dhPrime := bytesToBigInt(dhPrimeBytes)
	ga := bytesToBigInt(gaBytes)
	gBig := big.NewInt(int64(g))

	one := big.NewInt(1)
	dhPrimeMinus1 := new(big.Int).Sub(dhPrime, one)

	if gBig.Cmp(one) <= 0 || gBig.Cmp(dhPrimeMinus1) >= 0 {
		return ErrWeakDHParams
	}
	if ga.Cmp(one) <= 0 || ga.Cmp(dhPrimeMinus1) >= 0 {
		return ErrWeakDHParams
	}

	lowBound := new(big.Int).Lsh(one, 2048-64)
	highBound := new(big.Int).Sub(dhPrime, lowBound)
	if ga.Cmp(lowBound) <= 0 || ga.Cmp(highBound) >= 0 {
		return ErrWeakDHParams
	}
	return nil
}

// step3 picks a fresh b, computes g_b and the shared secret, and completes
// the handshake. It returns (result, retry, err): retry is true only on
// dh_gen_retry, signaling CreateKey to call step3 again with a new b.
func step3(conn *plainconn.PlainConn, nonce, serverNonce [16]byte, newNonce [32]byte, inner *serverDHInnerData) (*Result, bool, error) {
	dhPrime := bytesToBigInt(inner.DHPrime)
	ga := bytesToBigInt(inner.GA)
	g := big.NewInt(int64(inner.G))

	b, err := rand.Int(rand.Reader, dhPrime)
	if err != nil {
		return nil, false, err
	}
	gb := new(big.Int).Exp(g, b, dhPrime)
	gab := new(big.Int).Exp(ga, b, dhPrime)

	gabBytes := to256(gab)

	clientInner := &clientDHInnerData{
		Nonce:       nonce,
		ServerNonce: serverNonce,
		Retry:       0,
		GB:          gb.Bytes(),
	}
	cw := tl.NewWriter(256)
	clientInner.serialize(cw)
	innerHash := xcrypto.SHA1Sum(cw.Bytes())
	plain := padToBlock(append(innerHash[:], cw.Bytes()...))

	key, iv := xcrypto.HandshakeKeyIV(newNonce, serverNonce)
	encrypted, err := xcrypto.IGEEncrypt(key[:], iv[:], plain)
	if err != nil {
		return nil, false, err
	}

	req := &setClientDHParams{
		Nonce:         nonce,
		ServerNonce:   serverNonce,
		EncryptedData: encrypted,
	}
	rw := tl.NewWriter(64 + len(encrypted))
	req.serialize(rw)
	if err := conn.WriteMessage(rw.Bytes()); err != nil {
		return nil, false, err
	}

	body, err := conn.ReadMessage()
	if err != nil {
		return nil, false, err
	}
	dhGen, err := decodeDhGenResult(tl.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	if dhGen.Nonce != nonce || dhGen.ServerNonce != serverNonce {
		return nil, false, ErrNonceMismatch
	}

	aux := authKeyAuxHash(gabBytes)
	switch dhGen.Kind {
	case dhGenOk:
		if dhGen.NewNonceHash != dhGenNonceHash(1, newNonce, aux) {
			return nil, false, ErrBadDhGenHash
		}
		key, err := NewAuthKey(gabBytes)
		if err != nil {
			return nil, false, err
		}
		timeOffset := int64(inner.ServerTime) - localNowUnix()
		firstSalt := firstSaltFromNonces(newNonce, serverNonce)
		return &Result{Key: key, TimeOffset: timeOffset, FirstSalt: firstSalt}, false, nil
	case dhGenRetry:
		if dhGen.NewNonceHash != dhGenNonceHash(2, newNonce, aux) {
			return nil, false, ErrBadDhGenHash
		}
		return nil, true, ErrDhGenRetry
	default: // dhGenFail
		if dhGen.NewNonceHash != dhGenNonceHash(3, newNonce, aux) {
			return nil, false, ErrBadDhGenHash
		}
		return nil, false, ErrDhGenFail
	}
}

// firstSaltFromNonces derives the session's initial server_salt as the XOR
// of the first 8 bytes of new_nonce and server_nonce: no separate salt
// exchange is needed because both sides already hold this material.
func firstSaltFromNonces(newNonce [32]byte, serverNonce [16]byte) int64 {
	var a, b [8]byte
	copy(a[:], newNonce[:8])
	copy(b[:], serverNonce[:8])
	var out [8]byte
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return int64(binary.LittleEndian.Uint64(out[:]))
}

func localNowUnix() int64 { return time.Now().Unix() }

func trimmedBigEndian(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	i := 0
	for i < len(b)-1 && b[i] == 0 {
		i++
	}
	return b[i:]
}

// to256 renders v as exactly 256 big-endian bytes, the fixed width the
// protocol expects for the shared secret regardless of its natural size.
func to256(v *big.Int) []byte {
	b := v.Bytes()
	if len(b) >= 256 {
		return b[len(b)-256:]
	}
	out := make([]byte, 256)
	copy(out[256-len(b):], b)
	return out
}

// padToBlock right-pads b with random bytes to the next multiple of 16, as
// required before AES-IGE encryption; the padding can be arbitrary since
// client_DH_inner_data carries its own length-prefixed fields.
func padToBlock(b []byte) []byte {
	pad := (16 - len(b)%16) % 16
	if pad == 0 {
		return b
	}
	out := make([]byte, len(b)+pad)
	copy(out, b)
	rand.Read(out[len(b):])
	return out
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
