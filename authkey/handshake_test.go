package authkey

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/gram-proto/gram/mtproto/plainconn"
	"github.com/gram-proto/gram/tl"
	"github.com/gram-proto/gram/xcrypto"
	"github.com/stretchr/testify/require"
)

// fakeServer plays the server side of the handshake over an in-process
// net.Pipe, exercising CreateKey end to end without a real network. It
// trusts the client's encrypted nonce material rather than independently
// re-deriving it, which is fine for a test double but would not be for a
// real server.
type fakeServer struct {
	conn    *plainconn.PlainConn
	priv    *rsa.PrivateKey
	pub     *xcrypto.RSAPublicKey
	pq      uint64
	dhPrime *big.Int
	g       int64
	a       *big.Int // server's DH secret

	gabServer *big.Int // filled in once the client's g_b arrives
}

func newFakeServer(t *testing.T, rw net.Conn) *fakeServer {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	dhPrime, err := rand.Prime(rand.Reader, 2048)
	require.NoError(t, err)
	a, err := rand.Int(rand.Reader, dhPrime)
	require.NoError(t, err)

	return &fakeServer{
		conn:    plainconn.NewPlainConn(rw, plainconn.NewMsgIDGenerator(0)),
		priv:    priv,
		pub:     &xcrypto.RSAPublicKey{N: priv.PublicKey.N, E: big.NewInt(int64(priv.PublicKey.E))},
		pq:      99991 * 99989,
		dhPrime: dhPrime,
		g:       3,
		a:       a,
	}
}

// run executes one full handshake as the server would, sending errCh a
// single value (nil on success) when done.
func (s *fakeServer) run(errCh chan<- error) {
	errCh <- s.step()
}

func (s *fakeServer) step() error {
	// Step 1: req_pq_multi -> resPQ.
	body, err := s.conn.ReadMessage()
	if err != nil {
		return err
	}
	r := tl.NewReader(body)
	id, err := r.Constructor()
	if err != nil || id != constructorReqPqMulti {
		return tl.ErrInvalidData
	}
	clientNonce, err := r.Int128()
	if err != nil {
		return err
	}

	var serverNonce [16]byte
	if _, err := rand.Read(serverNonce[:]); err != nil {
		return err
	}

	w := tl.NewWriter(64)
	w.PutConstructor(constructorResPQ)
	w.PutInt128(clientNonce)
	w.PutInt128(serverNonce)
	w.PutBytes(trimmedBigEndian(s.pq))
	tl.PutVector(w, []uint64{s.pub.Fingerprint()}, func(w *tl.Writer, v uint64) { w.PutUint64(v) })
	if err := s.conn.WriteMessage(w.Bytes()); err != nil {
		return err
	}

	// Step 2: req_DH_params -> server_DH_params_ok.
	body, err = s.conn.ReadMessage()
	if err != nil {
		return err
	}
	r = tl.NewReader(body)
	if id, err = r.Constructor(); err != nil || id != constructorReqDHParams {
		return tl.ErrInvalidData
	}
	if clientNonce, err = r.Int128(); err != nil {
		return err
	}
	if serverNonce, err = r.Int128(); err != nil {
		return err
	}
	if _, err = r.Bytes(); err != nil { // p
		return err
	}
	if _, err = r.Bytes(); err != nil { // q
		return err
	}
	if _, err = r.Uint64(); err != nil { // fingerprint
		return err
	}
	encryptedData, err := r.Bytes()
	if err != nil {
		return err
	}

	m := new(big.Int).Exp(new(big.Int).SetBytes(encryptedData), s.priv.D, s.priv.N)
	block := m.Bytes()
	if len(block) < xcrypto.RSAModulusBytes {
		padded := make([]byte, xcrypto.RSAModulusBytes)
		copy(padded[xcrypto.RSAModulusBytes-len(block):], block)
		block = padded
	}
	pr := tl.NewReader(block[sha1.Size:])
	inner, err := decodePQInnerData(pr)
	if err != nil {
		return err
	}

	ga := new(big.Int).Exp(big.NewInt(s.g), s.a, s.dhPrime)

	innerW := tl.NewWriter(256)
	innerW.PutConstructor(constructorServerDHInnerData)
	innerW.PutInt128(clientNonce)
	innerW.PutInt128(serverNonce)
	innerW.PutInt32(int32(s.g))
	innerW.PutBytes(s.dhPrime.Bytes())
	innerW.PutBytes(ga.Bytes())
	innerW.PutInt32(int32(time.Now().Unix()))
	innerBytes := innerW.Bytes()
	hash := sha1.Sum(innerBytes)

	plain := append(append([]byte{}, hash[:]...), innerBytes...)
	plain = padToBlock(plain)

	key, iv := xcrypto.HandshakeKeyIV(inner.NewNonce, serverNonce)
	encryptedAnswer, err := xcrypto.IGEEncrypt(key[:], iv[:], plain)
	if err != nil {
		return err
	}

	aw := tl.NewWriter(64 + len(encryptedAnswer))
	aw.PutConstructor(constructorServerDHParamsOk)
	aw.PutInt128(clientNonce)
	aw.PutInt128(serverNonce)
	aw.PutBytes(encryptedAnswer)
	if err := s.conn.WriteMessage(aw.Bytes()); err != nil {
		return err
	}

	// Step 3: set_client_DH_params -> dh_gen_ok.
	body, err = s.conn.ReadMessage()
	if err != nil {
		return err
	}
	r = tl.NewReader(body)
	if id, err = r.Constructor(); err != nil || id != constructorSetClientDHParams {
		return tl.ErrInvalidData
	}
	if clientNonce, err = r.Int128(); err != nil {
		return err
	}
	if serverNonce, err = r.Int128(); err != nil {
		return err
	}
	setEncrypted, err := r.Bytes()
	if err != nil {
		return err
	}
	clientPlain, err := xcrypto.IGEDecrypt(key[:], iv[:], setEncrypted)
	if err != nil {
		return err
	}
	if len(clientPlain) < sha1.Size {
		return tl.ErrInvalidData
	}
	cr := tl.NewReader(clientPlain[sha1.Size:])
	if id, err = cr.Constructor(); err != nil || id != constructorClientDHInnerData {
		return tl.ErrInvalidData
	}
	if _, err = cr.Int128(); err != nil { // nonce
		return err
	}
	if _, err = cr.Int128(); err != nil { // server_nonce
		return err
	}
	if _, err = cr.Int64(); err != nil { // retry
		return err
	}
	gbBytes, err := cr.Bytes()
	if err != nil {
		return err
	}
	gb := new(big.Int).SetBytes(gbBytes)
	s.gabServer = new(big.Int).Exp(gb, s.a, s.dhPrime)

	aux := authKeyAuxHash(to256(s.gabServer))
	ow := tl.NewWriter(64)
	ow.PutConstructor(constructorDhGenOk)
	ow.PutInt128(clientNonce)
	ow.PutInt128(serverNonce)
	ow.PutInt128(dhGenNonceHash(1, inner.NewNonce, aux))
	return s.conn.WriteMessage(ow.Bytes())
}

// decodePQInnerData mirrors pqInnerData.serialize; only the client encodes
// this struct in production, so the decode side lives in the test.
func decodePQInnerData(r *tl.Reader) (*pqInnerData, error) {
	id, err := r.Constructor()
	if err != nil {
		return nil, err
	}
	if id != constructorPQInnerData {
		return nil, tl.ErrInvalidData
	}
	m := &pqInnerData{}
	if m.PQ, err = r.Bytes(); err != nil {
		return nil, err
	}
	if m.P, err = r.Bytes(); err != nil {
		return nil, err
	}
	if m.Q, err = r.Bytes(); err != nil {
		return nil, err
	}
	if m.Nonce, err = r.Int128(); err != nil {
		return nil, err
	}
	if m.ServerNonce, err = r.Int128(); err != nil {
		return nil, err
	}
	if m.NewNonce, err = r.Int256(); err != nil {
		return nil, err
	}
	return m, nil
}

func TestCreateKeyEndToEnd(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	server := newFakeServer(t, serverConn)
	errCh := make(chan error, 1)
	go server.run(errCh)

	plain := plainconn.NewPlainConn(clientConn, plainconn.NewMsgIDGenerator(0))
	result, err := CreateKey(plain, []*xcrypto.RSAPublicKey{server.pub})
	require.NoError(t, err)
	require.NoError(t, <-errCh)

	require.Equal(t, to256(server.gabServer), result.Key.Bytes())
	require.NotZero(t, result.Key.KeyID())
	require.WithinDuration(t,
		time.Now(),
		time.Now().Add(time.Duration(result.TimeOffset)*time.Second),
		5*time.Second,
	)
}

func TestCreateKeyNoRecognizedKey(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	server := newFakeServer(t, serverConn)
	errCh := make(chan error, 1)
	go func() { errCh <- server.step() }()

	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	decoy := &xcrypto.RSAPublicKey{N: otherKey.PublicKey.N, E: big.NewInt(int64(otherKey.PublicKey.E))}

	plain := plainconn.NewPlainConn(clientConn, plainconn.NewMsgIDGenerator(0))
	_, err = CreateKey(plain, []*xcrypto.RSAPublicKey{decoy})
	require.ErrorIs(t, err, ErrNoRecognizedKey)

	clientConn.Close()
	serverConn.Close()
	<-errCh
}
