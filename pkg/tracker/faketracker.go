package tracker

import (
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Phil9l/bittorrent/pkg/bencode"
	"github.com/Phil9l/bittorrent/pkg/peer"
	"github.com/Phil9l/bittorrent/pkg/torrent"
)

const DefaultFakeInterval = 30 * time.Second

// FakeTracker is a minimal in-memory HTTP tracker. Every announcing client is
// registered under its info hash and receives the other registered peers.
type FakeTracker struct {
	*http.Server
	logger          *zerolog.Logger
	interval        time.Duration
	lock            sync.RWMutex
	peersByInfoHash map[torrent.Hash]map[peer.Peer]struct{}
}

func NewFakeTracker(addr string, interval time.Duration, logger *zerolog.Logger) *FakeTracker {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if interval <= 0 {
		interval = DefaultFakeInterval
	}
	ft := &FakeTracker{
		logger:          logger,
		interval:        interval,
		peersByInfoHash: make(map[torrent.Hash]map[peer.Peer]struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/announce", ft.announceHandler)
	ft.Server = &http.Server{Addr: addr, Handler: mux}
	return ft
}

func (ft *FakeTracker) announceHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	w.Header().Set("Content-Type", "text/plain")

	infoHash, err := torrent.HashFromBytes([]byte(query.Get("info_hash")))
	if err != nil {
		ft.writeErrorResponse(w, "invalid info hash")
		return
	}
	port, err := strconv.ParseUint(query.Get("port"), 10, 16)
	if err != nil {
		ft.writeErrorResponse(w, "invalid port")
		return
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || net.ParseIP(host) == nil {
		ft.writeErrorResponse(w, "invalid ip")
		return
	}
	p := peer.New(host, uint16(port))
	l := ft.logger.With().
		Stringer("info_hash", infoHash).
		Stringer("remote_peer", p).
		Logger()

	if Event(query.Get("event")) == Stopped {
		ft.DeletePeer(infoHash, p)
		l.Info().Msg("peer stopped")
	} else {
		ft.AddPeer(infoHash, p)
		l.Info().Msg("peer announced")
	}
	others := ft.Peers(infoHash, p)

	var peersValue bencode.BenType = others.EncodeDicts()
	if query.Get("compact") == "1" {
		// falls back to the dictionary form when a peer has no IPv4 address
		if compact, err := others.EncodeCompact(); err == nil {
			peersValue = bencode.NewBytes(compact)
		}
	}
	ft.writeSuccessResponse(w, infoHash, peersValue)
}

func (ft *FakeTracker) writeSuccessResponse(w http.ResponseWriter, infoHash torrent.Hash, peers bencode.BenType) {
	ft.lock.RLock()
	total := len(ft.peersByInfoHash[infoHash])
	ft.lock.RUnlock()
	dict := bencode.NewDictionary(nil)
	dict.Set("interval", bencode.NewInteger(int64(ft.interval/time.Second)))
	dict.Set("complete", bencode.NewInteger(0))
	dict.Set("incomplete", bencode.NewInteger(int64(total)))
	dict.Set("peers", peers)
	if err := dict.Encode(w); err != nil {
		ft.logger.Err(err).Msg("unable to write tracker response")
	}
}

func (ft *FakeTracker) writeErrorResponse(w http.ResponseWriter, failureReason string) {
	ft.logger.Warn().Str("reason", failureReason).Msg("bad announce")
	dict := bencode.NewDictionary(nil)
	dict.Set("failure reason", bencode.NewString(failureReason))
	if err := dict.Encode(w); err != nil {
		ft.logger.Err(err).Msg("unable to write tracker response")
	}
}

func (ft *FakeTracker) AddPeer(infoHash torrent.Hash, p peer.Peer) {
	ft.lock.Lock()
	defer ft.lock.Unlock()
	peers, ok := ft.peersByInfoHash[infoHash]
	if !ok {
		peers = make(map[peer.Peer]struct{})
		ft.peersByInfoHash[infoHash] = peers
	}
	peers[p] = struct{}{}
}

func (ft *FakeTracker) DeletePeer(infoHash torrent.Hash, p peer.Peer) {
	ft.lock.Lock()
	defer ft.lock.Unlock()
	if peers, ok := ft.peersByInfoHash[infoHash]; ok {
		delete(peers, p)
	}
}

// Peers lists the peers registered for infoHash, sorted by address, leaving
// out the excluded ones.
func (ft *FakeTracker) Peers(infoHash torrent.Hash, exclude ...peer.Peer) peer.Peers {
	ft.lock.RLock()
	defer ft.lock.RUnlock()
	peers := make(peer.Peers, 0, len(ft.peersByInfoHash[infoHash]))
outer:
	for p := range ft.peersByInfoHash[infoHash] {
		for _, e := range exclude {
			if p == e {
				continue outer
			}
		}
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool {
		return peers[i].Address() < peers[j].Address()
	})
	return peers
}
