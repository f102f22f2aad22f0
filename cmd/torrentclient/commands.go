package main

import (
	"fmt"
	"net"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Phil9l/bittorrent/pkg/bencode"
	"github.com/Phil9l/bittorrent/pkg/peer"
	"github.com/Phil9l/bittorrent/pkg/torrent"
)

var decodeCmd = &cobra.Command{
	Use:     "decode <bencode>",
	Short:   "Decodes a bencoded value and prints it as a tree",
	Example: `  torrent-client decode 'd3:cow3:moo4:spaml1:a1:bee'`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := bencode.DecodeBytes([]byte(args[0]))
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), bencode.Dump(v))
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info <file.torrent>",
	Short: "Prints the metainfo of a torrent file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := torrent.Open(fs, args[0])
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 1, ' ', 0)
		fmt.Fprintf(w, "Tracker URL:\t%s\n", t.Announce)
		for i, tier := range t.AnnounceList {
			fmt.Fprintf(w, "Tier %d:\t%v\n", i, tier)
		}
		fmt.Fprintf(w, "Info Hash:\t%s\n", t.InfoHash)
		fmt.Fprintf(w, "Name:\t%s\n", t.Info.Name)
		if t.Comment != "" {
			fmt.Fprintf(w, "Comment:\t%s\n", t.Comment)
		}
		if t.CreatedBy != "" {
			fmt.Fprintf(w, "Created By:\t%s\n", t.CreatedBy)
		}
		if t.HasCreationDate() {
			fmt.Fprintf(w, "Creation Date:\t%s\n", t.CreationDate.Format("2006-01-02 15:04:05 MST"))
		}
		fmt.Fprintf(w, "Piece Length:\t%s\n", formatBytes(t.Info.PieceLength))
		fmt.Fprintf(w, "Pieces:\t%d\n", t.PiecesCount())
		fmt.Fprintf(w, "Total Size:\t%s\n", formatBytes(t.TotalLength()))
		for _, f := range t.Info.Files {
			fmt.Fprintf(w, "File:\t%s\t%s\n", joinPath(f.Path), formatBytes(f.Length))
		}
		return w.Flush()
	},
}

var peersCmd = &cobra.Command{
	Use:   "peers <file.torrent>",
	Short: "Announces a torrent and prints the peers the tracker returned",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadStorage(args[0])
		if err != nil {
			return err
		}
		client, err := newClient(s)
		if err != nil {
			return err
		}
		for t := range s.Iterator() {
			resp, err := client.Announce(cmd.Context(), t)
			if err != nil {
				return err
			}
			for _, p := range resp.Peers {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
		}
		return nil
	},
}

var handshakeCmd = &cobra.Command{
	Use:     "handshake <file.torrent> <host:port>",
	Short:   "Performs a handshake with a single peer and prints its peer id",
	Example: "  torrent-client handshake sample.torrent 127.0.0.1:6881",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := parsePeer(args[1])
		if err != nil {
			return err
		}
		s, err := loadStorage(args[0])
		if err != nil {
			return err
		}
		client, err := newClient(s)
		if err != nil {
			return err
		}
		for t := range s.Iterator() {
			hs, err := client.Handshake(cmd.Context(), t, p)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Peer ID: %x\n", hs.PeerID[:])
		}
		return nil
	},
}

func parsePeer(address string) (peer.Peer, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return peer.Peer{}, fmt.Errorf("invalid peer address: %w", err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return peer.Peer{}, fmt.Errorf("invalid peer port: %w", err)
	}
	return peer.New(host, uint16(port)), nil
}
