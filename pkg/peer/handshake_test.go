package peer

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	mocks "github.com/Phil9l/bittorrent/mocks/github.com/Phil9l/bittorrent/pkg/peer"
	"github.com/Phil9l/bittorrent/pkg/storage"
	"github.com/Phil9l/bittorrent/pkg/torrent"
)

var (
	testInfoHash = torrent.Hash([]byte("Hello, world! 01234 "))
	testPeerID   = IDFromString("-GO0001-random_bytes")
	remotePeerID = IDFromString("-GO0001-remote_peer0")
)

func TestHandshake_encode_decode(t *testing.T) {
	encoded, err := EncodeHandshake(testInfoHash[:], testPeerID[:])
	require.NoError(t, err)
	assert.Equal(t, "\x13BitTorrent protocol\x00\x00\x00\x00\x00\x00\x00\x00Hello, world! 01234 -GO0001-random_bytes", string(encoded))
	require.Len(t, encoded, HandshakeLen)

	hsDecoded, err := DecodeHandshake(encoded)
	require.NoError(t, err)
	assert.Equal(t, uint8(19), hsDecoded.PstrLen)
	assert.Equal(t, "BitTorrent protocol", hsDecoded.Pstr)
	assert.Equal(t, [8]byte{}, hsDecoded.Reserved)
	assert.Equal(t, testInfoHash, hsDecoded.InfoHash)
	assert.Equal(t, testPeerID, hsDecoded.PeerID)
	assert.Equal(t, encoded, hsDecoded.Encode())
}

func TestNewHandshake_InvalidLength(t *testing.T) {
	tests := map[string]struct {
		infoHash []byte
		peerID   []byte
	}{
		"short info hash": {infoHash: testInfoHash[:19], peerID: testPeerID[:]},
		"long info hash":  {infoHash: append(testInfoHash[:], 0), peerID: testPeerID[:]},
		"short peer id":   {infoHash: testInfoHash[:], peerID: testPeerID[:10]},
		"empty":           {},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			hs, err := NewHandshake(tt.infoHash, tt.peerID)
			assert.Nil(t, hs)
			assert.ErrorIs(t, err, ErrInvalidLength)

			encoded, err := EncodeHandshake(tt.infoHash, tt.peerID)
			assert.Nil(t, encoded)
			assert.ErrorIs(t, err, ErrInvalidLength)
		})
	}
}

func TestDecodeHandshake_WrongLength(t *testing.T) {
	for _, length := range []int{0, 1, HandshakeLen - 1, HandshakeLen + 1, 1024} {
		hs, err := DecodeHandshake(make([]byte, length))
		assert.Nil(t, hs)
		assert.ErrorIs(t, err, ErrWrongLength)
	}
}

func TestDecodeHandshake_NoContentValidation(t *testing.T) {
	raw := []byte(strings.Repeat("x", HandshakeLen))
	raw[0] = 7
	hs, err := DecodeHandshake(raw)
	require.NoError(t, err)
	assert.Equal(t, uint8(7), hs.PstrLen)
	assert.Equal(t, strings.Repeat("x", 19), hs.Pstr)
	assert.Equal(t, [8]byte{'x', 'x', 'x', 'x', 'x', 'x', 'x', 'x'}, hs.Reserved)
	assert.ErrorIs(t, hs.Verify(testInfoHash), ErrProtocol)
}

func TestHandshake_Verify(t *testing.T) {
	hs := newHandshake(testInfoHash, remotePeerID)
	assert.NoError(t, hs.Verify(testInfoHash))
	assert.ErrorIs(t, hs.Verify(torrent.Hash{0x1}), ErrInfoHashMismatch)
}

type trackingConn struct {
	net.Conn
	closed atomic.Bool
}

func (c *trackingConn) Close() error {
	c.closed.Store(true)
	return c.Conn.Close()
}

func createCons() (*trackingConn, net.Conn) {
	local, remote := net.Pipe()
	return &trackingConn{Conn: local}, remote
}

func TestPeer_Handshake(t *testing.T) {
	local, remote := createCons()
	dialer := mocks.NewMockContextDialer(t)
	dialer.EXPECT().DialContext(mock.Anything, "tcp", "127.0.0.1:6881").Return(local, nil)

	go func() {
		defer remote.Close()
		buf := make([]byte, HandshakeLen)
		_, err := io.ReadFull(remote, buf)
		if !assert.NoError(t, err) {
			return
		}
		hs, err := DecodeHandshake(buf)
		if !assert.NoError(t, err) {
			return
		}
		assert.Equal(t, testInfoHash, hs.InfoHash)
		assert.Equal(t, testPeerID, hs.PeerID)
		reply := newHandshake(hs.InfoHash, remotePeerID)
		reply.Reserved[5] = 0x10 // extension bits are allowed in replies
		_, err = remote.Write(reply.Encode())
		assert.NoError(t, err)
	}()

	p := New("127.0.0.1", 6881)
	hs, err := p.Handshake(context.Background(), dialer, testInfoHash, testPeerID, time.Second)
	require.NoError(t, err)
	assert.Equal(t, remotePeerID, hs.PeerID)
	assert.Equal(t, testInfoHash, hs.InfoHash)
	assert.Equal(t, byte(0x10), hs.Reserved[5])
	assert.NoError(t, hs.Verify(testInfoHash))
	assert.True(t, local.closed.Load(), "connection must be closed after handshake")
}

func TestPeer_Handshake_DialError(t *testing.T) {
	dialErr := errors.New("connection refused")
	dialer := mocks.NewMockContextDialer(t)
	dialer.EXPECT().DialContext(mock.Anything, "tcp", "10.0.0.1:1").Return(nil, dialErr)

	hs, err := New("10.0.0.1", 1).Handshake(context.Background(), dialer, testInfoHash, testPeerID, time.Second)
	assert.Nil(t, hs)
	assert.ErrorIs(t, err, dialErr)
}

func TestPeer_Handshake_ShortReply(t *testing.T) {
	local, remote := createCons()
	dialer := mocks.NewMockContextDialer(t)
	dialer.EXPECT().DialContext(mock.Anything, mock.Anything, mock.Anything).Return(local, nil)

	go func() {
		defer remote.Close()
		_, _ = io.ReadFull(remote, make([]byte, HandshakeLen))
		_, _ = remote.Write([]byte("\x13BitTorrent"))
	}()

	hs, err := New("127.0.0.1", 6881).Handshake(context.Background(), dialer, testInfoHash, testPeerID, time.Second)
	assert.Nil(t, hs)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.True(t, local.closed.Load(), "connection must be closed on failure")
}

func TestPeer_Handshake_Timeout(t *testing.T) {
	local, remote := createCons()
	defer remote.Close()
	dialer := mocks.NewMockContextDialer(t)
	dialer.EXPECT().DialContext(mock.Anything, mock.Anything, mock.Anything).Return(local, nil)

	go func() {
		// read our handshake, never answer
		_, _ = io.ReadFull(remote, make([]byte, HandshakeLen))
	}()

	start := time.Now()
	hs, err := New("127.0.0.1", 6881).Handshake(context.Background(), dialer, testInfoHash, testPeerID, 50*time.Millisecond)
	assert.Nil(t, hs)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, local.closed.Load())
}

func TestPeer_Handshake_RealTCP(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lis.Close()

	s := storage.NewStorage(afero.NewMemMapFs())
	require.NoError(t, s.Set(&torrent.File{InfoHash: testInfoHash}))
	accepted := make(chan error, 1)
	go func() {
		conn, err := lis.Accept()
		if err != nil {
			accepted <- err
			return
		}
		defer conn.Close()
		_, _, err = AcceptHandshake(context.Background(), conn, s, remotePeerID, time.Second)
		accepted <- err
	}()

	addr := lis.Addr().(*net.TCPAddr)
	hs, err := New("127.0.0.1", uint16(addr.Port)).Handshake(context.Background(), &net.Dialer{}, testInfoHash, testPeerID, time.Second)
	require.NoError(t, err)
	assert.Equal(t, remotePeerID, hs.PeerID)
	assert.NoError(t, <-accepted)
}

func TestAcceptHandshake(t *testing.T) {
	s := storage.NewStorage(afero.NewMemMapFs())
	registered := &torrent.File{InfoHash: testInfoHash}
	require.NoError(t, s.Set(registered))

	t.Run("known info hash", func(t *testing.T) {
		local, remote := net.Pipe()
		defer local.Close()
		go func() {
			defer remote.Close()
			_, err := remote.Write(newHandshake(testInfoHash, remotePeerID).Encode())
			assert.NoError(t, err)
			buf := make([]byte, HandshakeLen)
			_, err = io.ReadFull(remote, buf)
			assert.NoError(t, err)
			reply, err := DecodeHandshake(buf)
			if assert.NoError(t, err) {
				assert.Equal(t, testPeerID, reply.PeerID)
				assert.Equal(t, testInfoHash, reply.InfoHash)
			}
		}()
		hs, f, err := AcceptHandshake(context.Background(), local, s, testPeerID, time.Second)
		require.NoError(t, err)
		assert.Same(t, registered, f)
		assert.Equal(t, remotePeerID, hs.PeerID)
	})
	t.Run("unknown info hash", func(t *testing.T) {
		local, remote := net.Pipe()
		defer local.Close()
		go func() {
			defer remote.Close()
			_, _ = remote.Write(newHandshake(torrent.Hash{0x1}, remotePeerID).Encode())
		}()
		_, f, err := AcceptHandshake(context.Background(), local, s, testPeerID, time.Second)
		assert.Nil(t, f)
		assert.ErrorIs(t, err, ErrUnknownInfoHash)
	})
	t.Run("foreign protocol", func(t *testing.T) {
		local, remote := net.Pipe()
		defer local.Close()
		go func() {
			defer remote.Close()
			raw := newHandshake(testInfoHash, remotePeerID).Encode()
			copy(raw[1:], "NotTorrent protocol")
			_, _ = remote.Write(raw)
		}()
		_, _, err := AcceptHandshake(context.Background(), local, s, testPeerID, time.Second)
		assert.ErrorIs(t, err, ErrProtocol)
	})
	t.Run("timeout", func(t *testing.T) {
		local, remote := net.Pipe()
		defer local.Close()
		defer remote.Close()
		_, _, err := AcceptHandshake(context.Background(), local, s, testPeerID, 20*time.Millisecond)
		assert.Error(t, err)
	})
}
