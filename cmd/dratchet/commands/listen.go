package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TheusHen/DRatchet/dratchet/ratchet"
	"github.com/TheusHen/DRatchet/dratchet/session"
	"github.com/TheusHen/DRatchet/dratchet/transfer"
)

func (a *app) listenCmd() *cobra.Command {
	var (
		addr    string
		saveDir string
	)
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Accept sessions and print incoming messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p, stopMetrics, err := a.newPeer(ctx)
			if err != nil {
				return err
			}
			defer stopMetrics()
			defer p.Close()

			if addr == "" {
				addr = a.cfg.Listen
			}
			if err := p.Listen(addr); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Peer %s listening on %s\n", p.PeerID(), p.ListenAddr())

			for {
				c, err := p.Accept(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					a.logger.Warn("accept failed", zap.Error(err))
					continue
				}
				if saveDir != "" {
					go a.receiveFile(ctx, c, out, saveDir)
				} else {
					go a.printMessages(ctx, c, out)
				}
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&saveDir, "save-dir", "", "treat every session as a file transfer and store it here")
	return cmd
}

func (a *app) printMessages(ctx context.Context, c *session.Conn, out io.Writer) {
	defer c.Close()
	from := c.RemotePeerID().Short()
	for {
		msg, err := c.Receive(ctx)
		switch {
		case err == nil:
			fmt.Fprintf(out, "%s: %s\n", from, msg)
		case ratchet.KindOf(err) != 0:
			a.logger.Warn("dropped envelope", zap.String("peer", from), zap.Error(err))
		case errors.Is(err, io.EOF):
			a.logger.Info("peer closed session", zap.String("peer", from))
			return
		default:
			if ctx.Err() == nil {
				a.logger.Warn("receive failed", zap.String("peer", from), zap.Error(err))
			}
			return
		}
	}
}

func (a *app) receiveFile(ctx context.Context, c *session.Conn, out io.Writer, dir string) {
	defer c.Close()
	data, m, stats, err := transfer.Receive(ctx, c, transfer.DefaultConfig())
	if err != nil {
		a.logger.Warn("transfer failed", zap.Error(err), zap.Int("rejected", stats.Rejected))
		return
	}
	path, err := storePath(dir, m.ID)
	if err != nil {
		a.logger.Warn("transfer refused", zap.String("id", m.ID), zap.Error(err))
		return
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		a.logger.Error("store transfer", zap.String("path", path), zap.Error(err))
		return
	}
	fmt.Fprintf(out, "%s: stored %d bytes in %s (%d pieces, %d rejected)\n",
		c.RemotePeerID().Short(), len(data), path, stats.Pieces, stats.Rejected)
}

// storePath names the file a transfer is written to. Only canonical
// transfer IDs are accepted, so the result is always a direct child of dir.
func storePath(dir, id string) (string, error) {
	if !transfer.ValidID(id) {
		return "", fmt.Errorf("%w: id %q", transfer.ErrBadManifest, id)
	}
	path := filepath.Join(dir, id)
	if filepath.Dir(path) != filepath.Clean(dir) {
		return "", fmt.Errorf("%w: id %q", transfer.ErrBadManifest, id)
	}
	return path, nil
}
