package peer

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"strconv"
)

const IdSize = 20

type ID [IdSize]byte

// RandomID returns 20 random bytes. A client should call it once per process
// and pass the result to everything that announces or handshakes.
func RandomID() (ID, error) {
	var id ID
	if _, err := rand.Read(id[:]); err != nil {
		return ID{}, fmt.Errorf("unable to generate peer id: %w", err)
	}
	return id, nil
}

func IDFromString(s string) ID {
	if len(s) != IdSize {
		panic(fmt.Sprintf("peer id must be %d bytes, got %d", IdSize, len(s)))
	}
	return ID([]byte(s))
}

func (id ID) PeerId() [IdSize]byte {
	return id
}

type ContextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

type Peers []Peer

// Peer is a remote endpoint. It is comparable, so two peers are equal, and
// collide as map keys, exactly when host and port match.
type Peer struct {
	Host string
	Port uint16
}

func New(host string, port uint16) Peer {
	return Peer{Host: host, Port: port}
}

func (p Peer) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(int(p.Port)))
}

func (p Peer) String() string {
	return p.Address()
}
