package commands

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jholhewres/zapclaw/pkg/zapclaw/config"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// newConfigCmd creates the `zapclaw config` command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration and manage the API key",
		Long: `Inspect the effective configuration and manage the API key.

Examples:
  zapclaw config show
  zapclaw config path
  zapclaw config set-key
  zapclaw config delete-key`,
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigPathCmd(),
		newConfigSetKeyCmd(),
		newConfigDeleteKeyCmd(),
	)
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return writeMaskedConfig(cmd.OutOrStdout(), cfg)
		},
	}
}

// writeMaskedConfig renders cfg as YAML with the API key masked.
func writeMaskedConfig(w io.Writer, cfg *config.Config) error {
	masked := *cfg
	masked.OpenAI.APIKey = config.MaskSecret(cfg.OpenAI.APIKey)

	data, err := yaml.Marshal(&masked)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print which config file would be loaded",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Root().PersistentFlags().GetString("config")
			if path == "" {
				path = config.FindConfigFile()
			}
			if path == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "no config file found, using defaults and environment")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func newConfigSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-key",
		Short: "Store the OpenAI API key in the OS keyring",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := readSecret(cmd.OutOrStdout(), "OpenAI API key: ")
			if err != nil {
				return err
			}
			if key == "" {
				return errors.New("empty key, nothing stored")
			}
			if err := config.StoreKeyring(config.KeyringAPIKey, key); err != nil {
				return fmt.Errorf("storing key in keyring: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ API key stored (%s)\n", config.MaskSecret(key))
			return nil
		},
	}
}

func newConfigDeleteKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-key",
		Short: "Remove the OpenAI API key from the OS keyring",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.DeleteKeyring(config.KeyringAPIKey); err != nil {
				return fmt.Errorf("deleting key from keyring: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ API key removed from the keyring")
			return nil
		},
	}
}

// readSecret reads a line without echo when stdin is a terminal.
func readSecret(w io.Writer, prompt string) (string, error) {
	fmt.Fprint(w, prompt)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(w)
		if err != nil {
			return "", fmt.Errorf("reading key: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading key: %w", err)
	}
	return strings.TrimSpace(line), nil
}
