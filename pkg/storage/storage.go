package storage

import (
	"fmt"
	"sync"

	"github.com/spf13/afero"

	"github.com/Phil9l/bittorrent/pkg/torrent"
)

type Reader interface {
	Get(infoHash torrent.Hash) *torrent.File
	Iterator() <-chan *torrent.File
}

// Storage keeps the parsed torrents of a client, keyed by info hash.
type Storage struct {
	lock  sync.RWMutex
	files map[torrent.Hash]*torrent.File

	fs afero.Fs
}

func NewStorage(fs afero.Fs) *Storage {
	return &Storage{
		fs:    fs,
		files: make(map[torrent.Hash]*torrent.File),
	}
}

// Iterator yields a snapshot of the stored torrents.
func (s *Storage) Iterator() <-chan *torrent.File {
	s.lock.RLock()
	defer s.lock.RUnlock()
	ch := make(chan *torrent.File, len(s.files))
	for _, f := range s.files {
		ch <- f
	}
	close(ch)
	return ch
}

func (s *Storage) Get(infoHash torrent.Hash) *torrent.File {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.files[infoHash]
}

func (s *Storage) Len() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.files)
}

// Load parses a .torrent file from the storage's filesystem and registers it.
func (s *Storage) Load(torrentFileName string) (*torrent.File, error) {
	t, err := torrent.Open(s.fs, torrentFileName)
	if err != nil {
		return nil, fmt.Errorf("storage: unable to open torrent: %w", err)
	}
	if err = s.Set(t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Storage) Set(t *torrent.File) error {
	if t == nil {
		panic("torrent must not be nil")
	}
	if t.InfoHash.IsZero() {
		return fmt.Errorf("storage: torrent %q has no info hash", t.Info.Name)
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.files[t.InfoHash]; ok {
		return fmt.Errorf("storage: torrent %s already added", t.InfoHash)
	}
	s.files[t.InfoHash] = t
	return nil
}
