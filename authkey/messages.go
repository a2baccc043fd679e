// Package authkey implements the four-round-trip handshake that derives a
// 2048-bit authorization key from nothing but a plaintext exchange with the
// server. Each step accepts only the few fixed answer shapes the handshake
// defines, so unlike mtproto's general dispatcher it decodes directly rather
// than going through a tl.Registry.
package authkey

import (
	"math/big"

	"github.com/gram-proto/gram/tl"
)

const (
	constructorReqPqMulti         tl.ConstructorID = 0xbe7e8ef1
	constructorResPQ              tl.ConstructorID = 0x05162463
	constructorPQInnerData        tl.ConstructorID = 0x83c95aec
	constructorReqDHParams        tl.ConstructorID = 0xd712e4be
	constructorServerDHParamsOk   tl.ConstructorID = 0xd0e8075c
	constructorServerDHParamsFail tl.ConstructorID = 0x79cb045d
	constructorServerDHInnerData  tl.ConstructorID = 0xb5890dba
	constructorClientDHInnerData  tl.ConstructorID = 0x6643b654
	constructorSetClientDHParams  tl.ConstructorID = 0xf5045f1f
	constructorDhGenOk            tl.ConstructorID = 0x3bcbf734
	constructorDhGenRetry         tl.ConstructorID = 0x46dc1fb9
	constructorDhGenFail          tl.ConstructorID = 0xa69dae02
)

// reqPQMulti is step 1's request.
type reqPQMulti struct {
	Nonce [16]byte
}

func (m *reqPQMulti) serialize(w *tl.Writer) {
	w.PutConstructor(constructorReqPqMulti)
	w.PutInt128(m.Nonce)
}

// resPQ is the server's step-1 reply.
type resPQ struct {
	Nonce          [16]byte
	ServerNonce    [16]byte
	PQ             []byte
	Fingerprints   []uint64
}

func decodeResPQ(r *tl.Reader) (*resPQ, error) {
	id, err := r.Constructor()
	if err != nil {
		return nil, err
	}
	if id != constructorResPQ {
		return nil, tl.ErrInvalidData
	}
	m := &resPQ{}
	if m.Nonce, err = r.Int128(); err != nil {
		return nil, err
	}
	if m.ServerNonce, err = r.Int128(); err != nil {
		return nil, err
	}
	if m.PQ, err = r.Bytes(); err != nil {
		return nil, err
	}
	fps, err := tl.ReadVector(r, func(r *tl.Reader) (uint64, error) { return r.Uint64() })
	if err != nil {
		return nil, err
	}
	m.Fingerprints = fps
	return m, r.EnsureDone()
}

// pqInnerData is RSA-encrypted and sent as part of step 2's request.
type pqInnerData struct {
	PQ          []byte
	P           []byte
	Q           []byte
	Nonce       [16]byte
	ServerNonce [16]byte
	NewNonce    [32]byte
}

func (m *pqInnerData) serialize(w *tl.Writer) {
	w.PutConstructor(constructorPQInnerData)
	w.PutBytes(m.PQ)
	w.PutBytes(m.P)
	w.PutBytes(m.Q)
	w.PutInt128(m.Nonce)
	w.PutInt128(m.ServerNonce)
	w.PutInt256(m.NewNonce)
}

// reqDHParams is step 2's request.
type reqDHParams struct {
	Nonce         [16]byte
	ServerNonce   [16]byte
	P             []byte
	Q             []byte
	Fingerprint   uint64
	EncryptedData []byte
}

func (m *reqDHParams) serialize(w *tl.Writer) {
	w.PutConstructor(constructorReqDHParams)
	w.PutInt128(m.Nonce)
	w.PutInt128(m.ServerNonce)
	w.PutBytes(m.P)
	w.PutBytes(m.Q)
	w.PutUint64(m.Fingerprint)
	w.PutBytes(m.EncryptedData)
}

// serverDHParams is the step-2 reply: either Ok{encrypted_answer} or
// Fail{new_nonce_hash}.
type serverDHParams struct {
	Ok              bool
	Nonce           [16]byte
	ServerNonce     [16]byte
	EncryptedAnswer []byte // Ok only
	NewNonceHash    [16]byte // Fail only
}

func decodeServerDHParams(r *tl.Reader) (*serverDHParams, error) {
	id, err := r.Constructor()
	if err != nil {
		return nil, err
	}
	m := &serverDHParams{}
	switch id {
	case constructorServerDHParamsOk:
		m.Ok = true
		if m.Nonce, err = r.Int128(); err != nil {
			return nil, err
		}
		if m.ServerNonce, err = r.Int128(); err != nil {
			return nil, err
		}
		if m.EncryptedAnswer, err = r.Bytes(); err != nil {
			return nil, err
		}
	case constructorServerDHParamsFail:
		m.Ok = false
		if m.Nonce, err = r.Int128(); err != nil {
			return nil, err
		}
		if m.ServerNonce, err = r.Int128(); err != nil {
			return nil, err
		}
		if m.NewNonceHash, err = r.Int128(); err != nil {
			return nil, err
		}
	default:
		return nil, tl.ErrInvalidData
	}
	return m, r.EnsureDone()
}

// serverDHInnerData is the plaintext recovered by decrypting EncryptedAnswer.
type serverDHInnerData struct {
	Nonce       [16]byte
	ServerNonce [16]byte
	G           int32
	DHPrime     []byte
	GA          []byte
	ServerTime  int32
}

func decodeServerDHInnerData(r *tl.Reader) (*serverDHInnerData, error) {
	id, err := r.Constructor()
	if err != nil {
		return nil, err
	}
	if id != constructorServerDHInnerData {
		return nil, tl.ErrInvalidData
	}
	m := &serverDHInnerData{}
	if m.Nonce, err = r.Int128(); err != nil {
		return nil, err
	}
	if m.ServerNonce, err = r.Int128(); err != nil {
		return nil, err
	}
	if m.G, err = r.Int32(); err != nil {
		return nil, err
	}
	if m.DHPrime, err = r.Bytes(); err != nil {
		return nil, err
	}
	if m.GA, err = r.Bytes(); err != nil {
		return nil, err
	}
	if m.ServerTime, err = r.Int32(); err != nil {
		return nil, err
	}
	return m, nil // the decrypted block has trailing random padding, not EnsureDone
}

// clientDHInnerData is encrypted and sent as part of step 3's request.
type clientDHInnerData struct {
	Nonce       [16]byte
	ServerNonce [16]byte
	Retry       int64
	GB          []byte
}

func (m *clientDHInnerData) serialize(w *tl.Writer) {
	w.PutConstructor(constructorClientDHInnerData)
	w.PutInt128(m.Nonce)
	w.PutInt128(m.ServerNonce)
	w.PutInt64(m.Retry)
	w.PutBytes(m.GB)
}

// setClientDHParams is step 3's request.
type setClientDHParams struct {
	Nonce         [16]byte
	ServerNonce   [16]byte
	EncryptedData []byte
}

func (m *setClientDHParams) serialize(w *tl.Writer) {
	w.PutConstructor(constructorSetClientDHParams)
	w.PutInt128(m.Nonce)
	w.PutInt128(m.ServerNonce)
	w.PutBytes(m.EncryptedData)
}

// dhGenResult is the step-3 reply.
type dhGenResultKind int

const (
	dhGenOk dhGenResultKind = iota
	dhGenRetry
	dhGenFail
)

type dhGenResult struct {
	Kind        dhGenResultKind
	Nonce       [16]byte
	ServerNonce [16]byte
	NewNonceHash [16]byte
}

func decodeDhGenResult(r *tl.Reader) (*dhGenResult, error) {
	id, err := r.Constructor()
	if err != nil {
		return nil, err
	}
	m := &dhGenResult{}
	switch id {
	case constructorDhGenOk:
		m.Kind = dhGenOk
	case constructorDhGenRetry:
		m.Kind = dhGenRetry
	case constructorDhGenFail:
		m.Kind = dhGenFail
	default:
		return nil, tl.ErrInvalidData
	}
	if m.Nonce, err = r.Int128(); err != nil {
		return nil, err
	}
	if m.ServerNonce, err = r.Int128(); err != nil {
		return nil, err
	}
	if m.NewNonceHash, err = r.Int128(); err != nil {
		return nil, err
	}
	return m, r.EnsureDone()
}

// bigIntToBytes renders v as unsigned big-endian bytes with no leading zero
// byte forced (tl.PutBytes/Bytes carries its own length, so there is no
// fixed-width requirement here, unlike the RSA modexp path).
func bigIntToBytes(v *big.Int) []byte { return v.Bytes() }

func bytesToBigInt(b []byte) *big.Int { return new(big.Int).SetBytes(b) }
