package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Phil9l/bittorrent/pkg/tracker"
)

var (
	addr     string
	interval time.Duration
)

var rootCmd = &cobra.Command{
	Use:          "faketracker",
	Short:        "In-memory HTTP tracker for local testing",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&addr, "addr", ":8080", "address to listen on")
	rootCmd.Flags().DurationVar(&interval, "interval", tracker.DefaultFakeInterval, "re-announce interval sent to clients")
}

func run(cmd *cobra.Command, _ []string) error {
	l := log.Output(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).With().Timestamp().Logger()
	ft := tracker.NewFakeTracker(addr, interval, &l)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		l.Info().Str("addr", addr).Msg("fake tracker is listening")
		if err := ft.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return ft.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
