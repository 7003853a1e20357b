package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TheusHen/DRatchet/dratchet/identity"
	"github.com/TheusHen/DRatchet/internal/config"
)

func (a *app) keygenCmd() *cobra.Command {
	var writeConfig bool
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a long-term identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := identity.GenerateKeyPair()
			if err != nil {
				return err
			}
			defer kp.Wipe()
			if err := config.SaveIdentity(a.cfg.IdentityFile, kp); err != nil {
				return err
			}
			if writeConfig {
				if err := a.cfg.Write(a.configPath); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Identity written to %s\nPeer ID: %s\n", a.cfg.IdentityFile, kp.PeerID())
			return nil
		},
	}
	cmd.Flags().BoolVar(&writeConfig, "write-config", false, "also write the effective config file")
	return cmd
}
