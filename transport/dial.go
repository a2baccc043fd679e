package transport

import (
	"context"
	"net"
	"time"

	"golang.org/x/net/proxy"
)

// Dialer is the subset of net.Dialer/proxy.Dialer this package needs;
// satisfied directly by *net.Dialer and by the dialers proxy.SOCKS5 returns.
type Dialer interface {
	Dial(network, address string) (net.Conn, error)
}

// DialContextFunc matches the shape Sender/connection code expects for
// pluggable dialing, mirroring net.Dialer.DialContext.
type DialContextFunc func(ctx context.Context, network, address string) (net.Conn, error)

// NewDirectDialer returns a DialContextFunc connecting straight to address,
// with a 30s connect timeout and a long TCP keepalive.
func NewDirectDialer() DialContextFunc {
	d := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 3 * time.Minute}
	return d.DialContext
}

// NewSOCKS5Dialer returns a DialContextFunc that proxies every dial through
// a SOCKS5 server at proxyAddr, optionally authenticating with auth (nil for
// no authentication). golang.org/x/net/proxy's SOCKS5 client predates
// context-aware dialing, so cancellation is only observed before the dial
// starts, not mid-handshake.
func NewSOCKS5Dialer(proxyAddr string, auth *proxy.Auth) (DialContextFunc, error) {
	base := &net.Dialer{Timeout: 30 * time.Second}
	d, err := proxy.SOCKS5("tcp", proxyAddr, auth, base)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, network, address string) (net.Conn, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		return d.Dial(network, address)
	}, nil
}
