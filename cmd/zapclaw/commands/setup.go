package commands

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/config"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/scheduler"
	"github.com/spf13/cobra"
)

// newSetupCmd creates the `zapclaw setup` interactive wizard.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive wizard that writes config.yaml",
		Long: `Ask for the groups, operator phone, model and API key, then write a
config file with owner-only permissions. The API key goes to the OS
keyring when available.

Examples:
  zapclaw setup
  zapclaw setup --config ~/.config/zapclaw/config.yaml`,
		RunE: runSetup,
	}
}

// setupAnswers holds the wizard fields before they become a Config.
type setupAnswers struct {
	name        string
	groups      string
	operator    string
	model       string
	prompt      string
	timezone    string
	mediaDir    string
	dailyCron   string
	apiKey      string
	useKeyring  bool
	confirmSave bool
}

func runSetup(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path == "" {
		path = "config.yaml"
	}

	base := config.DefaultConfig()
	if _, err := os.Stat(path); err == nil {
		if existing, err := config.LoadFromFile(path); err == nil {
			base = existing
		}
	}

	printBanner()

	ans := answersFrom(base)
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Bot name").
				Value(&ans.name),
			huh.NewText().
				Title("Allow-listed groups").
				Description("One group id per line or comma-separated (e.g. 1203630...@g.us)").
				Value(&ans.groups),
			huh.NewInput().
				Title("Operator phone").
				Description("Only this number can use !ler. Digits with country code.").
				Value(&ans.operator).
				Validate(validatePhone),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Summary model").
				Options(
					huh.NewOption("gpt-4o-mini", "gpt-4o-mini"),
					huh.NewOption("gpt-4o", "gpt-4o"),
					huh.NewOption("gpt-4.1-mini", "gpt-4.1-mini"),
					huh.NewOption("gpt-4.1", "gpt-4.1"),
				).
				Value(&ans.model),
			huh.NewText().
				Title("Summary prompt").
				Value(&ans.prompt),
			huh.NewInput().
				Title("Timezone").
				Description("IANA name, empty for the host timezone").
				Value(&ans.timezone).
				Validate(validateTimezone),
			huh.NewInput().
				Title("Audio directory").
				Value(&ans.mediaDir),
			huh.NewInput().
				Title("Daily summary schedule").
				Description("Cron expression, empty to disable (e.g. 0 22 * * *)").
				Value(&ans.dailyCron).
				Validate(validateCron),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("OpenAI API key").
				Description("Leave empty to keep the current one").
				EchoMode(huh.EchoModePassword).
				Value(&ans.apiKey),
			huh.NewConfirm().
				Title("Store the API key in the OS keyring?").
				Value(&ans.useKeyring),
			huh.NewConfirm().
				Title(fmt.Sprintf("Write %s?", path)).
				Value(&ans.confirmSave),
		),
	)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("Setup cancelled.")
			return nil
		}
		return fmt.Errorf("setup form: %w", err)
	}
	if !ans.confirmSave {
		fmt.Println("Nothing written.")
		return nil
	}

	cfg := ans.apply(base)
	if ans.apiKey != "" && ans.useKeyring {
		if err := config.StoreKeyring(config.KeyringAPIKey, ans.apiKey); err != nil {
			fmt.Printf("  ⚠ keyring unavailable (%v), the key will be written to the config file\n", err)
		} else {
			cfg.OpenAI.APIKey = "${OPENAI_API_KEY}"
			fmt.Println("  ✓ API key stored in the OS keyring")
		}
	}

	if err := config.Save(cfg, path); err != nil {
		return err
	}

	fmt.Printf("  ✓ Configuration written to %s\n\n", path)
	fmt.Println("  Next: run 'zapclaw serve' and scan the QR code with WhatsApp.")
	return nil
}

func printBanner() {
	fmt.Println()
	fmt.Println("  ╭──────────────────────────────────────╮")
	fmt.Println("  │            zapclaw setup             │")
	fmt.Println("  ╰──────────────────────────────────────╯")
	fmt.Println()
}

func answersFrom(cfg *config.Config) *setupAnswers {
	return &setupAnswers{
		name:        cfg.Name,
		groups:      strings.Join(cfg.Groups, "\n"),
		operator:    cfg.Operator,
		model:       cfg.OpenAI.Model,
		prompt:      cfg.Prompt,
		timezone:    cfg.Timezone,
		mediaDir:    cfg.Media.Dir,
		dailyCron:   cfg.Schedule.DailySummary,
		useKeyring:  true,
		confirmSave: true,
	}
}

// apply copies the answers onto a copy of base.
func (a *setupAnswers) apply(base *config.Config) *config.Config {
	cfg := *base
	cfg.Name = strings.TrimSpace(a.name)
	cfg.Groups = splitGroups(a.groups)
	cfg.Operator = normalizePhone(a.operator)
	cfg.OpenAI.Model = a.model
	cfg.Prompt = strings.TrimSpace(a.prompt)
	if cfg.Prompt == "" {
		cfg.Prompt = config.DefaultPrompt
	}
	cfg.Timezone = strings.TrimSpace(a.timezone)
	cfg.Media.Dir = strings.TrimSpace(a.mediaDir)
	cfg.Schedule.DailySummary = strings.TrimSpace(a.dailyCron)
	if a.apiKey != "" {
		cfg.OpenAI.APIKey = strings.TrimSpace(a.apiKey)
	}
	return &cfg
}

// splitGroups accepts ids separated by commas or newlines.
func splitGroups(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r'
	})
	var out []string
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

var nonDigits = regexp.MustCompile(`\D`)

// normalizePhone keeps the digits of a phone number ("+55 (11) 9..." -> "55119...").
func normalizePhone(s string) string {
	return nonDigits.ReplaceAllString(s, "")
}

func validatePhone(s string) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	if n := len(normalizePhone(s)); n < 8 || n > 15 {
		return errors.New("expected 8 to 15 digits including the country code")
	}
	return nil
}

func validateTimezone(s string) error {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	if _, err := time.LoadLocation(s); err != nil {
		return fmt.Errorf("unknown timezone %q", s)
	}
	return nil
}

func validateCron(s string) error {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	return scheduler.Validate(s)
}
