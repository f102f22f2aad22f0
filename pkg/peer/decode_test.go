package peer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Phil9l/bittorrent/pkg/bencode"
)

func peerDict(ip string, port bencode.BenType) *bencode.Dictionary {
	return bencode.NewDictionary(map[bencode.String]bencode.BenType{
		*bencode.NewString("ip"):   bencode.NewString(ip),
		*bencode.NewString("port"): port,
	})
}

func TestDecodePeers(t *testing.T) {
	tests := map[string]struct {
		raw      bencode.BenType
		expected Peers
	}{
		"empty string": {
			raw:      bencode.NewString(""),
			expected: Peers{},
		},
		"empty list": {
			raw:      bencode.NewList([]bencode.BenType{}),
			expected: Peers{},
		},
		"compact": {
			raw: bencode.NewBytes([]byte{
				127, 0, 0, 1, 0x1a, 0xe1,
				192, 168, 0, 1, 0x1f, 0x90,
			}),
			expected: Peers{{Host: "127.0.0.1", Port: 6881}, {Host: "192.168.0.1", Port: 8080}},
		},
		"compact, port zero and max": {
			raw:      bencode.NewBytes([]byte{10, 0, 0, 1, 0, 0, 255, 255, 255, 255, 0xff, 0xff}),
			expected: Peers{{Host: "10.0.0.1", Port: 0}, {Host: "255.255.255.255", Port: 65535}},
		},
		"dicts with string ports": {
			raw: bencode.NewList([]bencode.BenType{
				peerDict("127.0.0.1", bencode.NewString("80")),
				peerDict("192.168.0.1", bencode.NewString("8080")),
			}),
			expected: Peers{{Host: "127.0.0.1", Port: 80}, {Host: "192.168.0.1", Port: 8080}},
		},
		"dicts with integer ports and extra keys": {
			raw: func() bencode.BenType {
				withID := peerDict("::1", bencode.NewInteger(51413))
				withID.Set("peer id", bencode.NewString("-GO0001-random_bytes"))
				return bencode.NewList([]bencode.BenType{withID, peerDict("tracker.example.com", bencode.NewInteger(1))})
			}(),
			expected: Peers{{Host: "::1", Port: 51413}, {Host: "tracker.example.com", Port: 1}},
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			peers, err := DecodePeers(tt.raw)
			require.NoError(t, err)
			require.NotNil(t, peers)
			assert.Equal(t, tt.expected, peers)
		})
	}
}

func TestDecodePeers_Unsupported(t *testing.T) {
	tests := map[string]bencode.BenType{
		"nil":        nil,
		"integer":    bencode.NewInteger(42),
		"dictionary": bencode.NewDictionary(nil),
		"mixed list": bencode.NewList([]bencode.BenType{
			peerDict("127.0.0.1", bencode.NewString("80")),
			bencode.NewInteger(42),
		}),
		"list of strings":      bencode.NewList([]bencode.BenType{bencode.NewString("127.0.0.1:80")}),
		"compact partial peer": bencode.NewBytes([]byte{127, 0, 0, 1, 0x1a, 0xe1, 127, 0, 0}),
		"compact too short":    bencode.NewBytes([]byte{127, 0, 0, 1, 0x1a}),
		"missing ip":           bencode.NewList([]bencode.BenType{bencode.NewDictionary(map[bencode.String]bencode.BenType{*bencode.NewString("port"): bencode.NewInteger(1)})}),
		"missing port":         bencode.NewList([]bencode.BenType{bencode.NewDictionary(map[bencode.String]bencode.BenType{*bencode.NewString("ip"): bencode.NewString("127.0.0.1")})}),
		"port out of range":    bencode.NewList([]bencode.BenType{peerDict("127.0.0.1", bencode.NewInteger(65536))}),
		"negative port":        bencode.NewList([]bencode.BenType{peerDict("127.0.0.1", bencode.NewInteger(-1))}),
		"port not a number":    bencode.NewList([]bencode.BenType{peerDict("127.0.0.1", bencode.NewString("http"))}),
		"port is a list":       bencode.NewList([]bencode.BenType{peerDict("127.0.0.1", bencode.NewList(nil))}),
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			peers, err := DecodePeers(raw)
			assert.Nil(t, peers)
			assert.ErrorIs(t, err, ErrUnsupportedPeerFormat)
		})
	}
}

func TestPeers_EncodeCompact(t *testing.T) {
	peers := Peers{{Host: "127.0.0.1", Port: 6881}, {Host: "192.168.0.1", Port: 8080}}
	encoded, err := peers.EncodeCompact()
	require.NoError(t, err)
	assert.Equal(t, []byte{127, 0, 0, 1, 0x1a, 0xe1, 192, 168, 0, 1, 0x1f, 0x90}, encoded)

	decoded, err := DecodePeers(bencode.NewBytes(encoded))
	require.NoError(t, err)
	assert.Equal(t, peers, decoded)

	_, err = Peers{{Host: "::1", Port: 1}}.EncodeCompact()
	assert.Error(t, err)
}

func TestPeers_EncodeDicts(t *testing.T) {
	peers := Peers{{Host: "127.0.0.1", Port: 6881}, {Host: "::1", Port: 80}}
	encoded, err := bencode.Marshal(peers.EncodeDicts())
	require.NoError(t, err)
	assert.Equal(t, "ld2:ip9:127.0.0.14:porti6881eed2:ip3:::14:porti80eee", string(encoded))

	decoded, err := DecodePeers(peers.EncodeDicts())
	require.NoError(t, err)
	assert.Equal(t, peers, decoded)
}
