package peer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/Phil9l/bittorrent/pkg/bencode"
)

const compactPeerSize = net.IPv4len + 2

var ErrUnsupportedPeerFormat = errors.New("unsupported peer format")

// DecodePeers converts the "peers" value of a tracker response. Two shapes
// are accepted: a compact string of 6-byte blocks, or a list of dictionaries
// with "ip" and "port" keys.
func DecodePeers(benType bencode.BenType) (Peers, error) {
	switch t := benType.(type) {
	case *bencode.String:
		return decodeCompact(t.Bytes())
	case *bencode.List:
		return decodeDicts(t.Value())
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedPeerFormat, benType)
}

// decodeCompact rejects a trailing block shorter than 6 bytes instead of
// dropping it.
func decodeCompact(peersBuf []byte) (Peers, error) {
	if len(peersBuf)%compactPeerSize != 0 {
		return nil, fmt.Errorf("%w: compact peers length %d is not a multiple of %d",
			ErrUnsupportedPeerFormat, len(peersBuf), compactPeerSize)
	}
	peersCount := len(peersBuf) / compactPeerSize
	peers := make(Peers, peersCount)
	for i := 0; i < peersCount; i++ {
		offset := i * compactPeerSize
		peers[i] = FromCompact(peersBuf[offset : offset+compactPeerSize])
	}
	return peers, nil
}

// FromCompact reads a 4-byte big-endian IPv4 address followed by a 2-byte
// big-endian port. block must be at least 6 bytes long.
func FromCompact(block []byte) Peer {
	return Peer{
		Host: net.IP(block[:net.IPv4len]).String(),
		Port: binary.BigEndian.Uint16(block[net.IPv4len:compactPeerSize]),
	}
}

func decodeDicts(items []bencode.BenType) (Peers, error) {
	peers := make(Peers, 0, len(items))
	for i, item := range items {
		dict, ok := item.(*bencode.Dictionary)
		if !ok {
			return nil, fmt.Errorf("%w: peers[%d] is %T, not a dictionary", ErrUnsupportedPeerFormat, i, item)
		}
		p, err := FromDict(dict)
		if err != nil {
			return nil, fmt.Errorf("peers[%d]: %w", i, err)
		}
		peers = append(peers, p)
	}
	return peers, nil
}

// FromDict reads the "ip" and "port" keys. The port may be an integer or a
// decimal string.
func FromDict(dict *bencode.Dictionary) (Peer, error) {
	ip, ok := dict.Get("ip").(*bencode.String)
	if !ok || ip.Len() == 0 {
		return Peer{}, fmt.Errorf("%w: ip is required", ErrUnsupportedPeerFormat)
	}
	var port int64
	switch t := dict.Get("port").(type) {
	case *bencode.Integer:
		port = t.Value()
	case *bencode.String:
		parsed, err := strconv.ParseInt(t.Value(), 10, 64)
		if err != nil {
			return Peer{}, fmt.Errorf("%w: port %q is not a number", ErrUnsupportedPeerFormat, t.Value())
		}
		port = parsed
	default:
		return Peer{}, fmt.Errorf("%w: port is required", ErrUnsupportedPeerFormat)
	}
	if port < 0 || port > 65535 {
		return Peer{}, fmt.Errorf("%w: port %d out of range", ErrUnsupportedPeerFormat, port)
	}
	return Peer{Host: ip.Value(), Port: uint16(port)}, nil
}

// EncodeCompact is the inverse of the compact form of DecodePeers. Every host
// must be an IPv4 address.
func (ps Peers) EncodeCompact() ([]byte, error) {
	peersBytes := make([]byte, 0, len(ps)*compactPeerSize)
	for _, p := range ps {
		ip := net.ParseIP(p.Host).To4()
		if ip == nil {
			return nil, fmt.Errorf("%s is not an IPv4 address", p.Host)
		}
		peersBytes = append(peersBytes, ip...)
		peersBytes = binary.BigEndian.AppendUint16(peersBytes, p.Port)
	}
	return peersBytes, nil
}

// EncodeDicts builds the non-compact form of a peers list.
func (ps Peers) EncodeDicts() *bencode.List {
	list := bencode.NewList(make([]bencode.BenType, 0, len(ps)))
	for _, p := range ps {
		dict := bencode.NewDictionary(nil)
		dict.Set("ip", bencode.NewString(p.Host))
		dict.Set("port", bencode.NewInteger(int64(p.Port)))
		list.Add(dict)
	}
	return list
}
