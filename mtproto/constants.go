package mtproto

import "github.com/gram-proto/gram/tl"

// Service-message constructor IDs dispatched by Unpack.
const (
	constructorMsgContainer        tl.ConstructorID = 0x73f1f8dc
	constructorRPCResult           tl.ConstructorID = 0xf35c6d01
	constructorRPCError            tl.ConstructorID = 0x2144ca19
	constructorMsgsAck             tl.ConstructorID = 0x62d6b459
	constructorBadMsgNotification  tl.ConstructorID = 0xa7eff811
	constructorBadServerSalt       tl.ConstructorID = 0xedab447b
	constructorNewSessionCreated   tl.ConstructorID = 0x9ec20908
	constructorPong                tl.ConstructorID = 0x347773c5
	constructorFutureSalts         tl.ConstructorID = 0xae500895
	constructorFutureSalt          tl.ConstructorID = 0x0949d9dc
	constructorMsgDetailedInfo     tl.ConstructorID = 0x276d3ec6
	constructorMsgNewDetailedInfo  tl.ConstructorID = 0x809db6df
	constructorGzipPacked          tl.ConstructorID = 0x3072cfa1
	constructorMsgsAllInfo         tl.ConstructorID = 0x8cc0d131
	constructorInvokeWithLayer     tl.ConstructorID = 0xda9b0d0d
)

// constructorPingDelayDisconnect is the keep-alive request Sender issues on
// its ~60s timer.
const constructorPingDelayDisconnect tl.ConstructorID = 0xf3427b8c

// containerMaxCount and containerMaxBytes are the hard limits on a single
// MessageContainer.
const (
	containerMaxCount = 100
	containerMaxBytes = 1 << 20

	// defaultGzipThreshold is the default size above which an outbound
	// body is gzip-wrapped if doing so shrinks it.
	defaultGzipThreshold = 500
)

// MaxUnackedBeforeFlush is the ack-coalescing threshold: past this many
// queued acks the Sender flushes them standalone rather than waiting for the
// next content-bearing frame (the timeout trigger is the Sender's own).
const MaxUnackedBeforeFlush = 16
