package commands

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TheusHen/DRatchet/dratchet/identity"
	"github.com/TheusHen/DRatchet/dratchet/session"
	"github.com/TheusHen/DRatchet/dratchet/transfer"
)

func (a *app) dialCmd() *cobra.Command {
	var (
		peerHex string
		file    string
		parity  int
	)
	cmd := &cobra.Command{
		Use:   "dial <addr>",
		Short: "Open a session and send stdin lines, or a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var hopts []session.HandshakeOption
			if peerHex != "" {
				id, err := identity.ParsePeerIDHex(peerHex)
				if err != nil {
					return err
				}
				hopts = append(hopts, session.ExpectPeer(id))
			}

			p, stopMetrics, err := a.newPeer(ctx)
			if err != nil {
				return err
			}
			defer stopMetrics()
			defer p.Close()

			c, err := p.Dial(ctx, args[0], hopts...)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Session with %s established\n", c.RemotePeerID())

			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				tc := transfer.DefaultConfig()
				tc.ParityShards = parity
				m, err := transfer.Send(ctx, c, data, tc)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Sent %s: %d bytes in %d+%d shards\n", m.ID, m.Size, m.DataShards, m.ParityShards)
				return c.Close()
			}

			go a.printMessages(ctx, c, out)
			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				if err := c.Send(ctx, scanner.Bytes()); err != nil {
					return err
				}
			}
			if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			return c.Close()
		},
	}
	cmd.Flags().StringVar(&peerHex, "peer", "", "expected peer ID (hex)")
	cmd.Flags().StringVar(&file, "file", "", "send this file as a transfer instead of chatting")
	cmd.Flags().IntVar(&parity, "parity", transfer.DefaultConfig().ParityShards, "parity shards for --file")
	return cmd
}
