package sender_test

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gram-proto/gram/authkey"
	"github.com/gram-proto/gram/mtproto"
	"github.com/gram-proto/gram/sender"
	"github.com/gram-proto/gram/tl"
	"github.com/gram-proto/gram/transport"
	"github.com/gram-proto/gram/xcrypto"
)

func testAuthKey(t *testing.T) *authkey.AuthKey {
	t.Helper()
	raw := make([]byte, 256)
	for i := range raw {
		raw[i] = byte(i)
	}
	key, err := authkey.NewAuthKey(raw)
	require.NoError(t, err)
	return key
}

// readClientFrame strips the one-time abridged-framing magic byte (sent
// once, ever, by a real client) and reads the single length-prefixed frame
// that follows, replicating transport.AbridgedConn.ReadFrame without
// constructing one — a fake server in this test is not the module under
// test and never writes a magic byte of its own (only the client selects
// abridged framing; a real server never echoes it back).
func readClientFrame(t *testing.T, conn net.Conn, first bool) []byte {
	t.Helper()
	if first {
		var magic [1]byte
		_, err := io.ReadFull(conn, magic[:])
		require.NoError(t, err)
		require.EqualValues(t, 0xef, magic[0])
	}
	var lenByte [1]byte
	_, err := io.ReadFull(conn, lenByte[:])
	require.NoError(t, err)
	require.Less(t, int(lenByte[0]), 127)
	payload := make([]byte, int(lenByte[0])*4)
	_, err = io.ReadFull(conn, payload)
	require.NoError(t, err)
	return payload
}

func writeServerFrame(t *testing.T, conn net.Conn, payload []byte) {
	t.Helper()
	require.Zero(t, len(payload)%4)
	words := len(payload) / 4
	require.Less(t, words, 127)
	_, err := conn.Write([]byte{byte(words)})
	require.NoError(t, err)
	_, err = conn.Write(payload)
	require.NoError(t, err)
}

// decryptClientFrame undoes exactly what mtproto.Session.encryptPayload
// does for an outbound frame, returning the top-level msg_id and body so a
// fake server can address its rpc_result at the right request.
func decryptClientFrame(t *testing.T, frame []byte, key *authkey.AuthKey) (msgID int64, body []byte) {
	t.Helper()
	r := tl.NewReader(frame)
	keyID, err := r.Uint64()
	require.NoError(t, err)
	require.Equal(t, key.KeyID(), keyID)
	msgKey, err := r.Int128()
	require.NoError(t, err)
	ciphertext := r.RestBytes()

	k, iv, err := xcrypto.DeriveKeyIV(key.Bytes(), msgKey, xcrypto.MsgKeyOffsetOutbound)
	require.NoError(t, err)
	plain, err := xcrypto.IGEDecrypt(k[:], iv[:], ciphertext)
	require.NoError(t, err)

	pr := tl.NewReader(plain)
	_, err = pr.Int64() // salt
	require.NoError(t, err)
	_, err = pr.Int64() // session_id
	require.NoError(t, err)
	topMsgID, err := pr.Int64()
	require.NoError(t, err)
	_, err = pr.Int32() // seq_no
	require.NoError(t, err)
	bodyLen, err := pr.Uint32()
	require.NoError(t, err)
	b, err := pr.Raw(int(bodyLen))
	require.NoError(t, err)
	return topMsgID, b
}

// encryptServerFrame builds the wire frame for an rpc_result answering
// reqMsgID with resultBody, encrypted the way a real server's reply to the
// client would be (inbound offset, so the client's Session.Unpack — which
// always decrypts with MsgKeyOffsetInbound — can read it back).
func encryptServerFrame(t *testing.T, key *authkey.AuthKey, sessionID, salt, serverMsgID int64, reqMsgID int64, resultBody []byte) []byte {
	t.Helper()

	rpcResult := tl.NewWriter(12 + len(resultBody))
	rpcResult.PutConstructor(0xf35c6d01) // rpc_result
	rpcResult.PutInt64(reqMsgID)
	rpcResult.PutRaw(resultBody)

	envelope := tl.NewWriter(20 + rpcResult.Len())
	envelope.PutInt64(serverMsgID)
	envelope.PutInt32(0) // seq_no, not verified by the client
	envelope.PutUint32(uint32(rpcResult.Len()))
	envelope.PutRaw(rpcResult.Bytes())

	payload := tl.NewWriter(16 + envelope.Len())
	payload.PutInt64(salt)
	payload.PutInt64(sessionID)
	payload.PutRaw(envelope.Bytes())

	padded := payload.Bytes()
	for len(padded)%16 != 0 || len(padded)-payload.Len() < 12 {
		padded = append(padded, 0)
	}

	msgKey, err := xcrypto.ComputeMsgKey(key.Bytes(), padded, xcrypto.MsgKeyOffsetInbound)
	require.NoError(t, err)
	k, iv, err := xcrypto.DeriveKeyIV(key.Bytes(), msgKey, xcrypto.MsgKeyOffsetInbound)
	require.NoError(t, err)
	ciphertext, err := xcrypto.IGEEncrypt(k[:], iv[:], padded)
	require.NoError(t, err)

	out := tl.NewWriter(24 + len(ciphertext))
	out.PutUint64(key.KeyID())
	out.PutInt128(msgKey)
	out.PutRaw(ciphertext)
	return out.Bytes()
}

// TestInvokeRoundTrip drives a Sender against a hand-built fake server over
// an in-memory net.Pipe: Invoke must block until the matching rpc_result
// arrives and then return its body.
func TestInvokeRoundTrip(t *testing.T) {
	key := testAuthKey(t)
	const salt = int64(0x1122334455667788)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	sess, err := mtproto.NewSession(key, salt, 0)
	require.NoError(t, err)
	sessionID := sess.SessionID()

	snd := sender.New(transport.NewAbridgedConn(clientConn), sess, 2, nil)
	snd.Start()
	defer snd.Stop()

	serverErrCh := make(chan error, 1)
	go func() {
		frame := readClientFrame(t, serverConn, true)
		reqMsgID, _ := decryptClientFrame(t, frame, key)

		resultBody := tl.NewWriter(4)
		resultBody.PutConstructor(0x11223344) // arbitrary result payload

		reply := encryptServerFrame(t, key, sessionID, salt, reqMsgID+4, reqMsgID, resultBody.Bytes())
		writeServerFrame(t, serverConn, reply)
		serverErrCh <- nil
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reqBody := tl.NewWriter(4)
	reqBody.PutConstructor(0xaabbccdd)

	result, err := snd.Invoke(ctx, reqBody.Bytes(), 0xaabbccdd)
	require.NoError(t, err)

	r := tl.NewReader(result)
	id, err := r.Constructor()
	require.NoError(t, err)
	require.EqualValues(t, 0x11223344, id)

	require.NoError(t, <-serverErrCh)
}

// TestInvokeSurfacesRPCError verifies an rpc_error is delivered to the
// caller verbatim, with the originating constructor attached.
func TestInvokeSurfacesRPCError(t *testing.T) {
	key := testAuthKey(t)
	var saltBits uint64 = 0x99aabbccddeeff00
	salt := int64(saltBits)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	sess, err := mtproto.NewSession(key, salt, 0)
	require.NoError(t, err)
	sessionID := sess.SessionID()

	snd := sender.New(transport.NewAbridgedConn(clientConn), sess, 2, nil)
	snd.Start()
	defer snd.Stop()

	go func() {
		frame := readClientFrame(t, serverConn, true)
		reqMsgID, _ := decryptClientFrame(t, frame, key)

		rpcError := tl.NewWriter(16)
		rpcError.PutConstructor(0x2144ca19) // rpc_error
		rpcError.PutInt32(303)
		rpcError.PutString("NETWORK_MIGRATE_4")

		reply := encryptServerFrame(t, key, sessionID, salt, reqMsgID+4, reqMsgID, rpcError.Bytes())
		writeServerFrame(t, serverConn, reply)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reqBody := tl.NewWriter(4)
	reqBody.PutConstructor(0xaabbccdd)

	_, err = snd.Invoke(ctx, reqBody.Bytes(), 0xaabbccdd)
	require.Error(t, err)

	var rpcErr *mtproto.RPCError
	require.ErrorAs(t, err, &rpcErr)
	require.EqualValues(t, 303, rpcErr.Code)
	require.EqualValues(t, 0xaabbccdd, rpcErr.OriginatingConstructor)
	dc, ok := rpcErr.IsMigration()
	require.True(t, ok)
	require.Equal(t, 4, dc)

	select {
	case target := <-snd.Migrated():
		require.Equal(t, 4, target)
	case <-time.After(time.Second):
		t.Fatal("Migrated() never fired")
	}
}
