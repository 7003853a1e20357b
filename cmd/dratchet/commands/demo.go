package commands

import (
	"bytes"
	"fmt"
	"io"
	"net/netip"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TheusHen/DRatchet/dratchet"
	"github.com/TheusHen/DRatchet/dratchet/crypto"
	"github.com/TheusHen/DRatchet/dratchet/discovery/memory"
	"github.com/TheusHen/DRatchet/dratchet/identity"
	"github.com/TheusHen/DRatchet/dratchet/session"
)

func (a *app) demoCmd() *cobra.Command {
	var suiteName string
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the conversation, burst and out-of-order scenarios in memory",
		RunE: func(cmd *cobra.Command, args []string) error {
			suites := []crypto.Suite{crypto.SuiteChaCha20Poly1305, crypto.SuiteXChaCha20Poly1305, crypto.SuiteAES256GCMSIV}
			if suiteName != "" {
				s, err := crypto.ParseSuite(suiteName)
				if err != nil {
					return err
				}
				suites = []crypto.Suite{s}
			}
			out := cmd.OutOrStdout()
			for _, s := range suites {
				for _, sc := range scenarios {
					banner(out, fmt.Sprintf("%s (%s)", sc.name, s))
					if err := sc.run(out, s, a.logger); err != nil {
						return fmt.Errorf("%s: %w", sc.name, err)
					}
					fmt.Fprintf(out, "%s passed\n\n", sc.name)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&suiteName, "suite", "", "run a single cipher suite")
	return cmd
}

var scenarios = []struct {
	name string
	run  func(io.Writer, crypto.Suite, *zap.Logger) error
}{
	{"Simple conversation", demoConversation},
	{"Multiple consecutive messages", demoBurst},
	{"Out-of-order delivery", demoOutOfOrder},
	{"Asynchronous establishment", demoAsync},
}

func banner(out io.Writer, title string) {
	line := strings.Repeat("=", 70)
	fmt.Fprintf(out, "%s\n%s\n%s\n", line, title, line)
}

// demoPair runs the handshake between two fresh identities.
func demoPair(suite crypto.Suite, logger *zap.Logger) (alice, bob *session.Session, err error) {
	a, err := identity.GenerateKeyPair()
	if err != nil {
		return nil, nil, err
	}
	b, err := identity.GenerateKeyPair()
	if err != nil {
		return nil, nil, err
	}
	dir := memory.New()
	opts := []session.Option{session.WithSuite(suite), session.WithLogger(logger)}
	ap := dratchet.NewPeer(a, dratchet.Config{Session: opts, Logger: logger})
	bp := dratchet.NewPeer(b, dratchet.Config{Session: opts, Logger: logger})
	if err := bp.Announce(dir, netip.AddrPort{}); err != nil {
		return nil, nil, err
	}
	alice, init, err := ap.Initiate(dir, bp.PeerID())
	if err != nil {
		return nil, nil, err
	}
	bob, err = bp.Respond(init)
	if err != nil {
		return nil, nil, err
	}
	return alice, bob, nil
}

func deliver(out io.Writer, from, to *session.Session, label, msg string) error {
	wire, err := from.Send([]byte(msg))
	if err != nil {
		return err
	}
	got, err := to.Receive(wire)
	if err != nil {
		return err
	}
	if !bytes.Equal(got, []byte(msg)) {
		return fmt.Errorf("expected %q, got %q", msg, got)
	}
	fmt.Fprintf(out, "%s: %q (%d bytes on the wire)\n", label, got, len(wire))
	return nil
}

func demoConversation(out io.Writer, suite crypto.Suite, logger *zap.Logger) error {
	alice, bob, err := demoPair(suite, logger)
	if err != nil {
		return err
	}
	defer alice.Close()
	defer bob.Close()

	if err := deliver(out, alice, bob, "Alice -> Bob", "Hello Bob!"); err != nil {
		return err
	}
	if err := deliver(out, bob, alice, "Bob -> Alice", "Hi Alice!"); err != nil {
		return err
	}
	if err := deliver(out, alice, bob, "Alice -> Bob", "I'm great, thanks!"); err != nil {
		return err
	}
	a, b := alice.Snapshot(), bob.Snapshot()
	fmt.Fprintf(out, "ratchet steps: alice=%d bob=%d\n", a.RatchetSteps, b.RatchetSteps)
	return nil
}

func demoBurst(out io.Writer, suite crypto.Suite, logger *zap.Logger) error {
	alice, bob, err := demoPair(suite, logger)
	if err != nil {
		return err
	}
	defer alice.Close()
	defer bob.Close()

	for i := 1; i <= 3; i++ {
		if err := deliver(out, alice, bob, fmt.Sprintf("Message %d", i), fmt.Sprintf("Message number %d", i)); err != nil {
			return err
		}
	}
	return nil
}

func demoOutOfOrder(out io.Writer, suite crypto.Suite, logger *zap.Logger) error {
	alice, bob, err := demoPair(suite, logger)
	if err != nil {
		return err
	}
	defer alice.Close()
	defer bob.Close()

	msgs := []string{"First message", "Second message", "Third message"}
	wires := make([][]byte, len(msgs))
	for i, m := range msgs {
		if wires[i], err = alice.Send([]byte(m)); err != nil {
			return err
		}
	}
	for _, i := range []int{2, 0, 1} {
		got, err := bob.Receive(wires[i])
		if err != nil {
			return err
		}
		if string(got) != msgs[i] {
			return fmt.Errorf("expected %q, got %q", msgs[i], got)
		}
		fmt.Fprintf(out, "delivered #%d: %q (skipped keys stored: %d)\n", i+1, got, bob.Snapshot().SkippedKeys)
	}
	return nil
}

func demoAsync(out io.Writer, suite crypto.Suite, logger *zap.Logger) error {
	a, err := identity.GenerateKeyPair()
	if err != nil {
		return err
	}
	b, err := identity.GenerateKeyPair()
	if err != nil {
		return err
	}
	opts := []session.Option{session.WithSuite(suite), session.WithLogger(logger)}
	ap := dratchet.NewPeer(a, dratchet.Config{Session: opts, Logger: logger})
	bp := dratchet.NewPeer(b, dratchet.Config{Session: opts, Logger: logger})
	defer ap.Close()
	defer bp.Close()

	dir := memory.New()
	if err := bp.Announce(dir, netip.AddrPort{}); err != nil {
		return err
	}
	fmt.Fprintf(out, "Bob published a prekey bundle as %s\n", bp.PeerID().Short())

	alice, init, err := ap.Initiate(dir, bp.PeerID())
	if err != nil {
		return err
	}
	wire, err := alice.Send([]byte("Hello Bob, from before you were online"))
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "Alice queued a message while Bob was offline")

	bob, err := bp.Respond(init)
	if err != nil {
		return err
	}
	got, err := bob.Receive(wire)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Bob read: %q\n", got)
	return deliver(out, bob, alice, "Bob -> Alice", "Got it")
}
