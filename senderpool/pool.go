// Package senderpool maps data center ids to running *sender.Senders: it
// tracks the mutable/persisted notion of "home DC", handles migration on
// RPC error 303 redirects, and maintains auxiliary per-DC senders for
// CDN-style file transfers.
package senderpool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/gram-proto/gram/metrics"
	"github.com/gram-proto/gram/mtproto"
	"github.com/gram-proto/gram/sender"
	"github.com/gram-proto/gram/session"
)

// Connector dials and authenticates a data center on demand. Implementations
// typically: look up (or negotiate, via authkey.CreateKey over a fresh
// plainconn.PlainConn) an authorization key for dcID through a session.Store,
// open a transport.AbridgedConn, build an mtproto.Session, and return a
// started *sender.Sender. The Pool never handshakes directly — it only
// knows when it needs a Sender, not how to make one.
type Connector interface {
	Connect(ctx context.Context, dcID int32) (*sender.Sender, error)
}

// ConnectFunc adapts a plain function to Connector.
type ConnectFunc func(ctx context.Context, dcID int32) (*sender.Sender, error)

func (f ConnectFunc) Connect(ctx context.Context, dcID int32) (*sender.Sender, error) {
	return f(ctx, dcID)
}

// ErrNoHomeDC is returned by Invoke before any home DC has ever been
// established (a fresh Store with no prior session).
var ErrNoHomeDC = errors.New("senderpool: no home data center configured")

// MigrationError reports that dc redirected the caller to a different data
// center via RPC error 303, left for the caller to act on. Invoke never
// returns this — it follows a home-DC redirect itself — but InvokeInDC does,
// since an auxiliary (e.g. CDN) DC redirecting itself isn't the "home DC
// changed" event the rest of this package reacts to.
type MigrationError struct {
	DC     int32
	Target int32
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("senderpool: dc %d redirects to dc %d", e.DC, e.Target)
}

// Pool owns every live Sender, keyed by data center id, and the mutable
// "home DC" pointer persisted in store.
type Pool struct {
	log       *log.Logger
	store     session.Store
	connector Connector

	mu      sync.Mutex
	homeDC  int32
	senders map[int32]*sender.Sender

	updates chan []byte
}

// New builds a Pool reading its initial home DC (if any) from store. A
// zero home DC means "not yet established"; Invoke fails with ErrNoHomeDC
// until SetHomeDC is called (normally once, right after the very first
// handshake during account sign-in — a high-level-client concern outside
// this module's scope).
func New(store session.Store, connector Connector, logger *log.Logger) (*Pool, error) {
	if logger == nil {
		logger = log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true, Prefix: "pool"})
	}
	home, err := store.HomeDC()
	if err != nil {
		return nil, fmt.Errorf("pool: loading home dc: %w", err)
	}
	return &Pool{
		log:       logger,
		store:     store,
		connector: connector,
		homeDC:    home,
		senders:   make(map[int32]*sender.Sender),
		updates:   make(chan []byte, 256),
	}, nil
}

// HomeDC returns the currently active home data center id.
func (p *Pool) HomeDC() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.homeDC
}

// SetHomeDC persists and adopts dcID as the home data center, without
// touching any existing Sender for it. Used once, by the caller that just
// completed the very first handshake of a fresh session.
func (p *Pool) SetHomeDC(dcID int32) error {
	if err := p.store.SetHomeDC(dcID); err != nil {
		return err
	}
	p.mu.Lock()
	p.homeDC = dcID
	p.mu.Unlock()
	return nil
}

// Updates returns the channel every connected Sender's inbound
// update-stream bodies are fanned into; the message box's caller is
// expected to drain it continuously and feed each body through
// updates.Normalize and Box.ProcessUpdates.
func (p *Pool) Updates() <-chan []byte { return p.updates }

// Invoke sends body against the home DC sender, transparently migrating
// home and retrying once if the server redirects with RPC error 303. A
// second redirect is returned to the caller as the *mtproto.RPCError.
func (p *Pool) Invoke(ctx context.Context, body []byte, originalConstructor uint32) ([]byte, error) {
	dc := p.HomeDC()
	if dc == 0 {
		return nil, ErrNoHomeDC
	}

	for attempt := 0; ; attempt++ {
		snd, err := p.ensure(ctx, dc)
		if err != nil {
			return nil, err
		}

		res, err := snd.Invoke(ctx, body, originalConstructor)
		if err == nil {
			return res, nil
		}

		var rpcErr *mtproto.RPCError
		if errors.As(err, &rpcErr) {
			if target, migrating := rpcErr.IsMigration(); migrating && attempt == 0 {
				if migErr := p.migrateHome(ctx, dc, int32(target)); migErr != nil {
					return nil, migErr
				}
				dc = int32(target)
				continue
			}
		}
		return nil, err
	}
}

// InvokeInDC sends body against dc directly, ensuring (and, on first use,
// authenticating) an auxiliary Sender for it without disturbing the home
// DC, as CDN-style file transfers require. Unlike Invoke, a 303 here is
// returned to the caller rather than acted on: a CDN DC redirecting itself
// again is not the "home DC changed" event the rest of this package
// reacts to.
func (p *Pool) InvokeInDC(ctx context.Context, dc int32, body []byte, originalConstructor uint32) ([]byte, error) {
	snd, err := p.ensure(ctx, dc)
	if err != nil {
		return nil, err
	}
	res, err := snd.Invoke(ctx, body, originalConstructor)
	if err != nil {
		var rpcErr *mtproto.RPCError
		if errors.As(err, &rpcErr) {
			if target, migrating := rpcErr.IsMigration(); migrating {
				return nil, &MigrationError{DC: dc, Target: int32(target)}
			}
		}
		return nil, err
	}
	return res, nil
}

// Disconnect stops and forgets the Sender for dc, if any; every Invoke
// still waiting on it returns sender.ErrClosed. Pool does not close the
// Sender's connection.
func (p *Pool) Disconnect(dc int32) {
	p.mu.Lock()
	snd, ok := p.senders[dc]
	if ok {
		delete(p.senders, dc)
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	snd.Stop()
	metrics.SetOutstandingRequests(dc, 0)
}

func (p *Pool) ensure(ctx context.Context, dc int32) (*sender.Sender, error) {
	p.mu.Lock()
	if snd, ok := p.senders[dc]; ok {
		p.mu.Unlock()
		return snd, nil
	}
	p.mu.Unlock()

	snd, err := p.connector.Connect(ctx, dc)
	if err != nil {
		return nil, fmt.Errorf("pool: connecting dc %d: %w", dc, err)
	}

	p.mu.Lock()
	if existing, ok := p.senders[dc]; ok {
		// Lost a race with a concurrent ensure(); keep the winner, drop
		// the loser's connection.
		p.mu.Unlock()
		snd.Stop()
		return existing, nil
	}
	p.senders[dc] = snd
	p.mu.Unlock()

	p.watch(dc, snd)
	return snd, nil
}

// watch forwards snd's updates into the pool-wide fan-in channel and
// reacts to a spontaneous migration notice (one not observed through
// Invoke's own return path, e.g. surfaced by an aux-DC Sender) by
// migrating home if and only if dc is still the home DC.
func (p *Pool) watch(dc int32, snd *sender.Sender) {
	go func() {
		for {
			select {
			case v, ok := <-snd.Updates():
				if !ok {
					return
				}
				select {
				case p.updates <- v.([]byte):
				case <-snd.HaltCh():
					return
				}
			case target := <-snd.Migrated():
				if p.HomeDC() == dc {
					if err := p.migrateHome(context.Background(), dc, int32(target)); err != nil {
						p.log.Errorf("spontaneous migration dc %d -> %d failed: %v", dc, target, err)
					}
				}
			case <-snd.HaltCh():
				return
			}
		}
	}()
}

func (p *Pool) migrateHome(ctx context.Context, oldDC, newDC int32) error {
	p.log.Infof("migrating home dc %d -> %d", oldDC, newDC)
	metrics.ObserveMigration(oldDC, newDC)

	p.Disconnect(oldDC)
	if err := p.SetHomeDC(newDC); err != nil {
		return err
	}
	_, err := p.ensure(ctx, newDC)
	return err
}
