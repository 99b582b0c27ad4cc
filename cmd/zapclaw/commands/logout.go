package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/jholhewres/zapclaw/pkg/zapclaw/channels/whatsapp"
	"github.com/spf13/cobra"
)

// newLogoutCmd creates the `zapclaw logout` command that unlinks the device.
func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Unlink this device from WhatsApp and delete the session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := loggerFor(cmd, cfg)

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			wa := whatsapp.New(cfg.WhatsApp, logger)
			if err := wa.Connect(ctx); err != nil {
				return fmt.Errorf("opening session: %w", err)
			}
			if wa.NeedsQR() {
				_ = wa.Disconnect()
				fmt.Println("No linked session found.")
				return nil
			}

			if err := wa.Logout(ctx); err != nil {
				return err
			}
			_ = wa.Disconnect()
			fmt.Println("✓ Device unlinked, session cleared.")
			return nil
		},
	}
}
