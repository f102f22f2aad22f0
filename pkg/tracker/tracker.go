package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Phil9l/bittorrent/pkg/bencode"
	"github.com/Phil9l/bittorrent/pkg/peer"
	"github.com/Phil9l/bittorrent/pkg/torrent"
)

const requestTimeout = 5 * time.Second

var (
	ErrTrackerFailure  = errors.New("tracker failure")
	ErrInvalidResponse = errors.New("invalid tracker response")
)

// Doer sends a single HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Response struct {
	Peers       peer.Peers
	Interval    time.Duration
	MinInterval time.Duration
	Warning     string
	TrackerID   string
	Complete    int64
	Incomplete  int64
	// Raw holds the whole decoded response, including keys not mapped above.
	Raw *bencode.Dictionary
}

type Tracker struct {
	doer    Doer
	torrent *torrent.File
	peerId  peer.ID
	port    uint16

	lock      sync.Mutex
	trackerID string
}

func New(doer Doer, t *torrent.File, peerId peer.ID, port uint16) *Tracker {
	if doer == nil {
		doer = http.DefaultClient
	}
	return &Tracker{
		doer:    doer,
		torrent: t,
		peerId:  peerId,
		port:    port,
	}
}

// Announce asks the tracker for peers of the torrent.
func (t *Tracker) Announce(ctx context.Context, event Event) (*Response, error) {
	l := log.Ctx(ctx).With().
		Str("tracker", t.torrent.Announce).
		Stringer("info_hash", t.torrent.InfoHash).
		Logger()
	body, err := t.request(ctx, event)
	if err != nil {
		return nil, err
	}
	decoded, err := bencode.DecodeBytes(body)
	if err != nil {
		return nil, fmt.Errorf("unable to decode tracker response: %w", err)
	}
	resp, err := parseResponse(decoded)
	if err != nil {
		return nil, err
	}
	if resp.TrackerID != "" {
		t.lock.Lock()
		t.trackerID = resp.TrackerID
		t.lock.Unlock()
	}
	if resp.Warning != "" {
		l.Warn().Str("warning", resp.Warning).Msg("tracker warning")
	}
	l.Debug().
		Int("peers", len(resp.Peers)).
		Dur("interval", resp.Interval).
		Msg("announced")
	return resp, nil
}

// Stop tells the tracker we are leaving. The response body is ignored.
func (t *Tracker) Stop(ctx context.Context) error {
	_, err := t.request(ctx, Stopped)
	return err
}

func (t *Tracker) request(ctx context.Context, event Event) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.torrent.AnnounceURL(t.params(event)), nil)
	if err != nil {
		return nil, fmt.Errorf("unable to create new http request: %w", err)
	}
	httpResp, err := t.doer.Do(req)
	if err != nil {
		return nil, fmt.Errorf("unable to send http request: %w", err)
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, fmt.Errorf("tracker responded with status %d", httpResp.StatusCode)
	}
	if event == Stopped {
		return nil, nil
	}
	b, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("unable to read tracker response: %w", err)
	}
	return b, nil
}

func (t *Tracker) params(event Event) url.Values {
	peerId := t.peerId.PeerId()
	params := url.Values{
		"info_hash":  []string{string(t.torrent.InfoHash[:])},
		"peer_id":    []string{string(peerId[:])},
		"port":       []string{strconv.Itoa(int(t.port))},
		"uploaded":   []string{"0"},
		"downloaded": []string{"0"},
		"left":       []string{strconv.FormatInt(t.torrent.TotalLength(), 10)},
		"compact":    []string{"1"},
	}
	if event != Regular {
		params.Set("event", string(event))
	}
	t.lock.Lock()
	if t.trackerID != "" {
		params.Set("trackerid", t.trackerID)
	}
	t.lock.Unlock()
	return params
}

func parseResponse(benType bencode.BenType) (*Response, error) {
	dict, ok := benType.(*bencode.Dictionary)
	if !ok {
		return nil, fmt.Errorf("%w: expected dictionary, got %s", ErrInvalidResponse, benType)
	}
	if reason := dict.Get("failure reason"); reason != nil {
		return nil, fmt.Errorf("%w: %s", ErrTrackerFailure, reason)
	}
	resp := &Response{Raw: dict, Peers: peer.Peers{}}
	var err error
	if resp.Interval, err = optionalSeconds(dict, "interval"); err != nil {
		return nil, err
	}
	if resp.MinInterval, err = optionalSeconds(dict, "min interval"); err != nil {
		return nil, err
	}
	if resp.Complete, err = optionalInteger(dict, "complete"); err != nil {
		return nil, err
	}
	if resp.Incomplete, err = optionalInteger(dict, "incomplete"); err != nil {
		return nil, err
	}
	if resp.Warning, err = optionalString(dict, "warning message"); err != nil {
		return nil, err
	}
	if resp.TrackerID, err = optionalString(dict, "tracker id"); err != nil {
		return nil, err
	}
	if raw := dict.Get("peers"); raw != nil {
		if resp.Peers, err = peer.DecodePeers(raw); err != nil {
			return nil, fmt.Errorf("unable to decode peers: %w", err)
		}
	}
	return resp, nil
}

func optionalInteger(dict *bencode.Dictionary, key string) (int64, error) {
	v := dict.Get(key)
	if v == nil {
		return 0, nil
	}
	i, ok := v.(*bencode.Integer)
	if !ok {
		return 0, fmt.Errorf("%w: %q must be an integer", ErrInvalidResponse, key)
	}
	return i.Value(), nil
}

func optionalSeconds(dict *bencode.Dictionary, key string) (time.Duration, error) {
	seconds, err := optionalInteger(dict, key)
	if err != nil {
		return 0, err
	}
	if seconds < 0 {
		return 0, fmt.Errorf("%w: %q is negative", ErrInvalidResponse, key)
	}
	return time.Duration(seconds) * time.Second, nil
}

func optionalString(dict *bencode.Dictionary, key string) (string, error) {
	v := dict.Get(key)
	if v == nil {
		return "", nil
	}
	s, ok := v.(*bencode.String)
	if !ok {
		return "", fmt.Errorf("%w: %q must be a string", ErrInvalidResponse, key)
	}
	return s.Value(), nil
}
