package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Phil9l/bittorrent/pkg/storage"
	"github.com/Phil9l/bittorrent/pkg/torrent"
)

const (
	HandshakeLen = 1 + len(Pstr) + reservedLen + torrent.HashSize + IdSize
	Pstr         = "BitTorrent protocol"
	reservedLen  = 8

	DefaultHandshakeTimeout = 2 * time.Second
)

var (
	ErrInvalidLength    = errors.New("handshake: invalid field length")
	ErrWrongLength      = errors.New("handshake: wrong message length")
	ErrInfoHashMismatch = errors.New("handshake: info hash mismatch")
	ErrUnknownInfoHash  = errors.New("handshake: unknown info hash")
	ErrProtocol         = errors.New("handshake: unexpected protocol")
)

// Handshake is <pstrlen><pstr><reserved><info_hash><peer_id>.
type Handshake struct {
	PstrLen  uint8
	Pstr     string
	Reserved [reservedLen]byte
	InfoHash torrent.Hash
	PeerID   ID
}

func newHandshake(infoHash torrent.Hash, peerId ID) *Handshake {
	return &Handshake{
		PstrLen:  uint8(len(Pstr)),
		Pstr:     Pstr,
		InfoHash: infoHash,
		PeerID:   peerId,
	}
}

// NewHandshake fails with ErrInvalidLength unless both infoHash and peerID
// are exactly 20 bytes.
func NewHandshake(infoHash, peerID []byte) (*Handshake, error) {
	if len(infoHash) != torrent.HashSize {
		return nil, fmt.Errorf("%w: info_hash is %d bytes, want %d", ErrInvalidLength, len(infoHash), torrent.HashSize)
	}
	if len(peerID) != IdSize {
		return nil, fmt.Errorf("%w: peer_id is %d bytes, want %d", ErrInvalidLength, len(peerID), IdSize)
	}
	return newHandshake(torrent.Hash(infoHash), ID(peerID)), nil
}

func EncodeHandshake(infoHash, peerID []byte) ([]byte, error) {
	hs, err := NewHandshake(infoHash, peerID)
	if err != nil {
		return nil, err
	}
	return hs.Encode(), nil
}

// Encode always produces HandshakeLen bytes; Pstr is padded or cut to 19
// bytes.
func (h *Handshake) Encode() []byte {
	buf := make([]byte, HandshakeLen)
	buf[0] = h.PstrLen
	curr := 1
	copy(buf[curr:curr+len(Pstr)], h.Pstr)
	curr += len(Pstr)
	curr += copy(buf[curr:], h.Reserved[:])
	curr += copy(buf[curr:], h.InfoHash[:])
	copy(buf[curr:], h.PeerID[:])
	return buf
}

// DecodeHandshake only checks the length. Verifying the protocol name and
// the info hash is up to the caller.
func DecodeHandshake(raw []byte) (*Handshake, error) {
	if len(raw) != HandshakeLen {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrWrongLength, len(raw), HandshakeLen)
	}
	h := &Handshake{PstrLen: raw[0]}
	curr := 1
	h.Pstr = string(raw[curr : curr+len(Pstr)])
	curr += len(Pstr)
	curr += copy(h.Reserved[:], raw[curr:])
	curr += copy(h.InfoHash[:], raw[curr:])
	copy(h.PeerID[:], raw[curr:])
	return h, nil
}

// Handshake dials p, sends our handshake and reads exactly one handshake
// back. The connection is closed before returning, whatever happens. The
// reply is not validated.
func (p Peer) Handshake(ctx context.Context, dialer ContextDialer, infoHash torrent.Hash, id ID, timeout time.Duration) (*Handshake, error) {
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	l := log.Ctx(ctx).With().Str("remote_peer", p.Address()).Logger()

	conn, err := dialer.DialContext(ctx, "tcp", p.Address())
	if err != nil {
		return nil, fmt.Errorf("unable to establish conn: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() {
		// unblocks Write/Read on cancellation
		_ = conn.Close()
	})
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	l.Debug().Msg("connected to peer")

	myHs := newHandshake(infoHash, id)
	if _, err = conn.Write(myHs.Encode()); err != nil {
		return nil, fmt.Errorf("unable to write handshake: %w", err)
	}
	buf := make([]byte, HandshakeLen)
	if _, err = io.ReadFull(conn, buf); err != nil {
		return nil, fmt.Errorf("unable to read handshake: %w", err)
	}
	peerHs, err := DecodeHandshake(buf)
	if err != nil {
		return nil, fmt.Errorf("unable to decode handshake: %w", err)
	}
	l.Debug().Str("peer_id", fmt.Sprintf("%q", peerHs.PeerID[:])).Msg("handshake received")
	return peerHs, nil
}

// AcceptHandshake answers a remote peer that connected to us. The remote
// handshake is read first; we answer only when the info hash is registered
// in s. conn stays open either way.
func AcceptHandshake(ctx context.Context, conn net.Conn, s storage.Reader, id ID, timeout time.Duration) (*Handshake, *torrent.File, error) {
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	defer conn.SetDeadline(time.Time{})
	_ = conn.SetDeadline(time.Now().Add(timeout))
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, HandshakeLen)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, nil, fmt.Errorf("unable to read handshake: %w", err)
	}
	peerHs, err := DecodeHandshake(buf)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to decode handshake: %w", err)
	}
	if peerHs.PstrLen != uint8(len(Pstr)) || peerHs.Pstr != Pstr {
		return peerHs, nil, fmt.Errorf("%w: %q", ErrProtocol, peerHs.Pstr)
	}
	t := s.Get(peerHs.InfoHash)
	if t == nil {
		return peerHs, nil, fmt.Errorf("%w: %s", ErrUnknownInfoHash, peerHs.InfoHash)
	}
	myHs := newHandshake(peerHs.InfoHash, id)
	if _, err = conn.Write(myHs.Encode()); err != nil {
		return peerHs, nil, fmt.Errorf("unable to write handshake: %w", err)
	}
	return peerHs, t, nil
}

// Verify checks that h is a BitTorrent handshake for infoHash.
func (h *Handshake) Verify(infoHash torrent.Hash) error {
	if h.PstrLen != uint8(len(Pstr)) || h.Pstr != Pstr {
		return fmt.Errorf("%w: %q", ErrProtocol, h.Pstr)
	}
	if h.InfoHash != infoHash {
		return fmt.Errorf("%w: got %s, want %s", ErrInfoHashMismatch, h.InfoHash, infoHash)
	}
	return nil
}
