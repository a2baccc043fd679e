package mtproto

import "github.com/gram-proto/gram/tl"

// PingDelayDisconnect serializes the ping_delay_disconnect#f3427b8c request
// Sender issues on its keep-alive timer: a ping_id plus the number
// of seconds the server should wait for a follow-up ping before treating
// this connection as abandoned.
func PingDelayDisconnect(pingID int64, disconnectDelay int32) []byte {
	w := tl.NewWriter(16)
	w.PutConstructor(constructorPingDelayDisconnect)
	w.PutInt64(pingID)
	w.PutInt32(disconnectDelay)
	return w.Bytes()
}
