package pkg

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Phil9l/bittorrent/pkg/listener"
	"github.com/Phil9l/bittorrent/pkg/peer"
	"github.com/Phil9l/bittorrent/pkg/storage"
	"github.com/Phil9l/bittorrent/pkg/torrent"
	"github.com/Phil9l/bittorrent/pkg/tracker"
)

var ErrNoPeerReachable = errors.New("no peer completed the handshake")

// Result is the first peer that proved it serves a torrent.
type Result struct {
	Torrent   *torrent.File
	Peer      peer.Peer
	Handshake *peer.Handshake
}

type Option func(*Client)

func WithDialer(dialer peer.ContextDialer) Option {
	return func(c *Client) {
		c.dialer = dialer
	}
}

func WithDoer(doer tracker.Doer) Option {
	return func(c *Client) {
		c.doer = doer
	}
}

func WithHandshakeTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

type Client struct {
	id       peer.ID
	port     uint16
	storage  *storage.Storage
	dialer   peer.ContextDialer
	doer     tracker.Doer
	timeout  time.Duration
	results  chan *Result
	trackers sync.Map // torrent.Hash -> *tracker.Tracker
}

func NewClient(id peer.ID, port uint16, storage *storage.Storage, opts ...Option) *Client {
	c := &Client{
		id:      id,
		port:    port,
		storage: storage,
		dialer:  &net.Dialer{},
		doer:    &http.Client{},
		timeout: peer.DefaultHandshakeTimeout,
		results: make(chan *Result, storage.Len()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Results yields one Result per torrent a peer was found for. It is closed
// once discovery has finished for every torrent. Results nobody reads
// are dropped when Run's ctx is done.
func (c *Client) Results() <-chan *Result {
	return c.results
}

// Announce sends the started event for t and returns the tracker's answer.
func (c *Client) Announce(ctx context.Context, t *torrent.File) (*tracker.Response, error) {
	resp, err := c.tracker(t).Announce(ctx, tracker.Started)
	if err != nil {
		return nil, fmt.Errorf("announce %s: %w", t.InfoHash, err)
	}
	return resp, nil
}

// Handshake performs a handshake with p and checks it answered for t.
func (c *Client) Handshake(ctx context.Context, t *torrent.File, p peer.Peer) (*peer.Handshake, error) {
	hs, err := p.Handshake(ctx, c.dialer, t.InfoHash, c.id, c.timeout)
	if err != nil {
		return nil, err
	}
	if err = hs.Verify(t.InfoHash); err != nil {
		return nil, err
	}
	return hs, nil
}

// Discover announces t and tries the returned peers in order until one of
// them completes a verified handshake. Failing peers are logged and skipped.
func (c *Client) Discover(ctx context.Context, t *torrent.File) (*Result, error) {
	l := log.Ctx(ctx).With().Stringer("info_hash", t.InfoHash).Logger()
	resp, err := c.Announce(ctx, t)
	if err != nil {
		return nil, err
	}
	l.Info().Int("peers", len(resp.Peers)).Msg("got peers from tracker")
	for _, p := range resp.Peers {
		if err = ctx.Err(); err != nil {
			return nil, err
		}
		hs, err := c.Handshake(ctx, t, p)
		if err != nil {
			l.Warn().Err(err).Stringer("remote_peer", p).Msg("handshake failed")
			continue
		}
		l.Info().
			Stringer("remote_peer", p).
			Str("peer_id", fmt.Sprintf("%x", hs.PeerID[:])).
			Msg("handshake succeeded")
		return &Result{Torrent: t, Peer: p, Handshake: hs}, nil
	}
	return nil, fmt.Errorf("%w: %s, %d peers tried", ErrNoPeerReachable, t.InfoHash, len(resp.Peers))
}

// Run listens for incoming handshakes and discovers a peer for every
// registered torrent. It returns when ctx is done or a tracker fails. Run
// must be called at most once.
func (c *Client) Run(ctx context.Context) (err error) {
	l := log.Ctx(ctx)
	lis := listener.New(l)
	if err = lis.Listen(c.port); err != nil {
		close(c.results)
		return fmt.Errorf("unable to start listener: %w", err)
	}
	defer lis.Close()
	if addr, ok := lis.Addr().(*net.TCPAddr); ok {
		c.port = uint16(addr.Port)
	}
	defer c.stopTrackers()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return lis.Serve(gctx, c.serveHandshake)
	})
	var discovery sync.WaitGroup
	for file := range c.storage.Iterator() {
		file := file
		discovery.Add(1)
		g.Go(func() error {
			defer discovery.Done()
			result, err := c.Discover(gctx, file)
			if errors.Is(err, ErrNoPeerReachable) {
				l.Warn().Err(err).Msg("discovery finished without a peer")
				return nil
			}
			if err != nil {
				return err
			}
			select {
			case c.results <- result:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	go func() {
		discovery.Wait()
		close(c.results)
	}()
	if err = g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (c *Client) serveHandshake(ctx context.Context, conn net.Conn) {
	l := log.Ctx(ctx).With().Str("remote_peer", conn.RemoteAddr().String()).Logger()
	hs, t, err := peer.AcceptHandshake(ctx, conn, c.storage, c.id, c.timeout)
	if err != nil {
		l.Warn().Err(err).Msg("incoming handshake rejected")
		return
	}
	l.Info().
		Stringer("info_hash", t.InfoHash).
		Str("peer_id", fmt.Sprintf("%x", hs.PeerID[:])).
		Msg("incoming handshake accepted")
}

func (c *Client) tracker(t *torrent.File) *tracker.Tracker {
	tr, _ := c.trackers.LoadOrStore(t.InfoHash, tracker.New(c.doer, t, c.id, c.port))
	return tr.(*tracker.Tracker)
}

func (c *Client) stopTrackers() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c.trackers.Range(func(_, tr any) bool {
		_ = tr.(*tracker.Tracker).Stop(ctx)
		return true
	})
}
