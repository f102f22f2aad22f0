package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Phil9l/bittorrent/pkg"
	"github.com/Phil9l/bittorrent/pkg/peer"
	"github.com/Phil9l/bittorrent/pkg/storage"
)

const defaultListenPort uint16 = 8889

var (
	listenPort       uint16
	handshakeTimeout time.Duration
	logLevel         string
	logFilePath      string
	fixedPeerId      string

	fs      = afero.NewOsFs()
	logFile io.Closer
)

var rootCmd = &cobra.Command{
	Version:           "0.1",
	Use:               "torrent-client file.torrent...",
	Example:           "  torrent-client debian.torrent another.torrent --port 6881",
	Short:             "Finds a live peer for every given torrent",
	SilenceUsage:      true,
	Args:              cobra.MinimumNArgs(1),
	PersistentPreRunE: setupLogger,
	RunE:              run,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.Uint16Var(&listenPort, "port", defaultListenPort, "port to announce and to accept handshakes on")
	flags.DurationVar(&handshakeTimeout, "timeout", peer.DefaultHandshakeTimeout, "connect and read timeout of a single handshake")
	flags.StringVar(&logLevel, "log-level", zerolog.LevelInfoValue, "trace, debug, info, warn, error or disabled")
	flags.StringVar(&logFilePath, "log-file", "", "write logs to this file instead of stderr")
	flags.StringVar(&fixedPeerId, "peer-id", "", "20 bytes peer id, random when empty")

	rootCmd.AddCommand(decodeCmd, infoCmd, peersCmd, handshakeCmd)
	// finalizers run whether or not RunE failed
	cobra.OnFinalize(closeLogFile)
}

func closeLogFile() {
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

func setupLogger(cmd *cobra.Command, _ []string) error {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	var out io.Writer = cmd.ErrOrStderr()
	if logFilePath != "" {
		f, err := fs.OpenFile(logFilePath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0664)
		if err != nil {
			return fmt.Errorf("unable to open log file: %w", err)
		}
		logFile = f
		out = f
	}
	l := log.Output(zerolog.ConsoleWriter{Out: out, NoColor: logFilePath != ""}).
		With().Caller().Logger().
		Level(level)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(l.WithContext(ctx))
	return nil
}

func peerId() (peer.ID, error) {
	if fixedPeerId == "" {
		return peer.RandomID()
	}
	if len(fixedPeerId) != peer.IdSize {
		return peer.ID{}, fmt.Errorf("peer id must be %d bytes, got %d", peer.IdSize, len(fixedPeerId))
	}
	return peer.IDFromString(fixedPeerId), nil
}

func newClient(s *storage.Storage) (*pkg.Client, error) {
	id, err := peerId()
	if err != nil {
		return nil, err
	}
	return pkg.NewClient(id, listenPort, s, pkg.WithHandshakeTimeout(handshakeTimeout)), nil
}

func loadStorage(torrents ...string) (*storage.Storage, error) {
	s := storage.NewStorage(fs)
	for _, name := range torrents {
		if _, err := s.Load(name); err != nil {
			return nil, fmt.Errorf("unable to add torrent: %w", err)
		}
	}
	return s, nil
}

func run(cmd *cobra.Command, args []string) error {
	s, err := loadStorage(args...)
	if err != nil {
		return err
	}
	client, err := newClient(s)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return client.Run(ctx)
	})
	g.Go(func() error {
		for result := range client.Results() {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\tpeer id %x\n",
				result.Torrent.InfoHash, result.Torrent.Info.Name, result.Peer, result.Handshake.PeerID[:])
		}
		return nil
	})
	if err = g.Wait(); errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
