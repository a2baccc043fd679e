// Command gramctl is a smoke test for the handshake, session and sender
// layers: it dials one configured data center, runs the authorization-key
// handshake and starts a Sender against it. Given a caller-supplied request
// it invokes that request and exits; without one it idles through one
// keep-alive ping cycle. It logs every stage along the way.
package main

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"flag"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/net/proxy"

	"github.com/gram-proto/gram/authkey"
	"github.com/gram-proto/gram/config"
	"github.com/gram-proto/gram/mtproto"
	"github.com/gram-proto/gram/mtproto/plainconn"
	"github.com/gram-proto/gram/sender"
	"github.com/gram-proto/gram/transport"
	"github.com/gram-proto/gram/xcrypto"
)

func main() {
	configPath := flag.String("config", "gram.toml", "path to the client TOML configuration")
	rsaKeyPath := flag.String("rsa-key", "", "path to a PEM-encoded RSA public key this client trusts for the handshake")
	dcFlag := flag.Int("dc", 0, "data center id to dial (defaults to the first configured entry)")
	requestHex := flag.String("request", "", "hex-encoded request body to invoke after the handshake (skipped if empty)")
	flag.Parse()

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true, Prefix: "gramctl"})

	if err := run(logger, *configPath, *rsaKeyPath, int32(*dcFlag), *requestHex); err != nil {
		logger.Fatal(err)
	}
}

func run(logger *log.Logger, configPath, rsaKeyPath string, dcID int32, requestHex string) error {
	cfg, err := config.FromFile(configPath)
	if err != nil {
		return fmt.Errorf("gramctl: loading config: %w", err)
	}

	if dcID == 0 {
		dcID = cfg.DataCenter[0].ID
	}
	dc, ok := cfg.DataCenterByID(dcID)
	if !ok {
		return fmt.Errorf("gramctl: data center %d is not configured", dcID)
	}

	pub, err := loadRSAPublicKey(rsaKeyPath)
	if err != nil {
		return fmt.Errorf("gramctl: loading rsa key: %w", err)
	}

	dial, err := dialerFor(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Infof("dialing dc %d at %s", dc.ID, dc.Addr)
	conn, err := dial(ctx, "tcp", dc.Addr)
	if err != nil {
		return fmt.Errorf("gramctl: dial: %w", err)
	}

	logger.Info("running handshake")
	ids := plainconn.NewMsgIDGenerator(0)
	plain := plainconn.NewPlainConn(conn, ids)
	result, err := authkey.CreateKey(plain, []*xcrypto.RSAPublicKey{pub})
	if err != nil {
		conn.Close()
		return fmt.Errorf("gramctl: handshake: %w", err)
	}
	logger.Infof("handshake complete, auth_key_id=%x", result.Key.KeyID())

	sess, err := mtproto.NewSession(result.Key, result.FirstSalt, result.TimeOffset)
	if err != nil {
		conn.Close()
		return fmt.Errorf("gramctl: building session: %w", err)
	}

	pingInterval := time.Duration(cfg.Debug.PingIntervalSeconds) * time.Second
	snd := sender.New(transport.NewAbridgedConn(conn), sess, dc.ID, logger.With("dc", dc.ID))
	snd.SetPingTimings(pingInterval, pingInterval+15*time.Second)
	snd.Start()
	defer snd.Stop()

	if requestHex != "" {
		body, err := hex.DecodeString(requestHex)
		if err != nil {
			return fmt.Errorf("gramctl: decoding -request: %w", err)
		}

		logger.Info("invoking request")
		invokeCtx, invokeCancel := context.WithTimeout(ctx, 15*time.Second)
		defer invokeCancel()
		resp, err := snd.Invoke(invokeCtx, body, 0)
		if err != nil {
			return fmt.Errorf("gramctl: invoke: %w", err)
		}
		logger.Infof("ok, response=%s", hex.EncodeToString(resp))
		return nil
	}

	logger.Infof("no -request given, idling through one ping cycle (%s)", pingInterval)
	time.Sleep(pingInterval + 5*time.Second)
	logger.Info("ok")
	return nil
}

func dialerFor(cfg *config.Config) (transport.DialContextFunc, error) {
	if cfg.Proxy.Addr == "" {
		return transport.NewDirectDialer(), nil
	}
	var auth *proxy.Auth
	if cfg.Proxy.Username != "" {
		auth = &proxy.Auth{User: cfg.Proxy.Username, Password: cfg.Proxy.Password}
	}
	return transport.NewSOCKS5Dialer(cfg.Proxy.Addr, auth)
}

func loadRSAPublicKey(path string) (*xcrypto.RSAPublicKey, error) {
	if path == "" {
		return nil, fmt.Errorf("a trusted -rsa-key is required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", path)
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaPub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%s is not an RSA public key", path)
	}
	return &xcrypto.RSAPublicKey{N: rsaPub.N, E: big.NewInt(int64(rsaPub.E))}, nil
}
