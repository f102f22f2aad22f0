package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var errAlreadyListened = fmt.Errorf("already listened")
var errNothingToClose = fmt.Errorf("nothing to close")
var errNotListening = fmt.Errorf("not listening")

// Handler serves one accepted connection. The listener closes conn once the
// handler returns.
type Handler func(ctx context.Context, conn net.Conn)

func New(logger *zerolog.Logger) *Listener {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Listener{logger: logger}
}

type Listener struct {
	once   sync.Once
	lock   sync.Mutex
	lis    net.Listener
	logger *zerolog.Logger
}

// Listen binds a TCP port; port 0 picks a free one, see Addr.
func (l *Listener) Listen(port uint16) (err error) {
	err = errAlreadyListened
	l.once.Do(func() {
		var lis net.Listener
		lis, err = net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			err = fmt.Errorf("unable to listen port %d: %w", port, err)
			return
		}
		l.lock.Lock()
		l.lis = lis
		l.lock.Unlock()
	})
	return
}

func (l *Listener) Addr() net.Addr {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.lis == nil {
		return nil
	}
	return l.lis.Addr()
}

// Serve accepts connections until ctx is done or the listener is closed,
// running handler for each of them. It waits for running handlers before
// returning.
func (l *Listener) Serve(ctx context.Context, handler Handler) error {
	l.lock.Lock()
	lis := l.lis
	l.lock.Unlock()
	if lis == nil {
		return errNotListening
	}
	stop := context.AfterFunc(ctx, func() {
		_ = l.Close()
	})
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()
	var delay time.Duration // how long to sleep on accept failure
	for {
		conn, err := lis.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			delay = acceptBackoff(delay)
			l.logger.Warn().Err(err).Dur("retry_in", delay).Msg("accept failed")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		delay = 0
		l.logger.Info().
			Str("remote_peer", conn.RemoteAddr().String()).
			Msg("incoming connection from remote peer")
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			handler(ctx, conn)
		}()
	}
}

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

func acceptBackoff(delay time.Duration) time.Duration {
	if delay == 0 {
		return minAcceptDelay
	}
	return min(2*delay, maxAcceptDelay)
}

func (l *Listener) Close() error {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.lis == nil {
		return errNothingToClose
	}
	err := l.lis.Close()
	l.lis = nil
	return err
}
