package setup

import (
	"fmt"
	"net/mail"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/walletsync/config"
)

// DefaultConfigFile is where the wizard writes its result.
const DefaultConfigFile = "config.gen.yaml"

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// Answers holds what the wizard collected.
type Answers struct {
	Email                string
	Oracle               string
	PriceRefreshInterval string
	RefreshMode          string
	ListenAddr           string
	TLSDomains           string
	DataDir              string
	AdminUser            string
	AdminPassword        string
}

// DefaultAnswers pre-fills the wizard.
func DefaultAnswers() Answers {
	return Answers{
		Oracle:               config.OracleCoinGecko,
		PriceRefreshInterval: config.MinPriceRefreshInterval.String(),
		RefreshMode:          config.RefreshModeFast,
		ListenAddr:           ":8000",
		DataDir:              "./wal",
		AdminUser:            "admin",
	}
}

// ConfigTmp converts the answers into the yaml config shape. A non-empty admin
// password is stored as a bcrypt hash.
func (a Answers) ConfigTmp() (config.ConfigTmp, error) {
	if err := validateEmail(a.Email); err != nil {
		return config.ConfigTmp{}, err
	}
	if err := validateInterval(a.PriceRefreshInterval); err != nil {
		return config.ConfigTmp{}, err
	}

	tmp := config.ConfigTmp{
		Email:                strings.ToLower(strings.TrimSpace(a.Email)),
		Oracle:               a.Oracle,
		PriceRefreshInterval: a.PriceRefreshInterval,
		RefreshMode:          a.RefreshMode,
		ListenAddr:           a.ListenAddr,
		DataDir:              a.DataDir,
		AdminUser:            a.AdminUser,
	}
	for _, d := range strings.Split(a.TLSDomains, ",") {
		if d = strings.TrimSpace(d); d != "" {
			tmp.TLSDomains = append(tmp.TLSDomains, d)
		}
	}

	if a.AdminPassword != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(a.AdminPassword), bcrypt.DefaultCost)
		if err != nil {
			return config.ConfigTmp{}, fmt.Errorf("failed to hash admin password: %w", err)
		}
		tmp.AdminPasswordHash = string(hash)
	}
	return tmp, nil
}

// WriteConfig stores the answers as yaml at path.
func WriteConfig(path string, a Answers) error {
	tmp, err := a.ConfigTmp()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(tmp)
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}

// RunTUI launches the terminal configuration wizard and returns the path of
// the written config.
func RunTUI() (string, error) {
	answers := DefaultAnswers()
	var confirm bool

	showStep := func(step string) {
		fmt.Print("\033[H\033[2J")
		fmt.Println(headerStyle.Render("WALLETSYNC SETUP"))
		fmt.Println(stepStyle.Render(step))
	}

	showStep("STEP 1: ACCOUNT")
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Whose wallet should this node show?\n"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Email").
				Description("Leave empty to use the signed-in session").
				Value(&answers.Email).
				Validate(func(s string) error {
					if s == "" {
						return nil
					}
					return validateEmail(s)
				}),
		),
	).Run()
	if err != nil {
		return "", err
	}

	showStep("STEP 2: PRICES")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Price oracle").
				Options(
					huh.NewOption("CoinGecko", config.OracleCoinGecko),
					huh.NewOption("Binance", config.OracleBinance),
					huh.NewOption("Bybit", config.OracleBybit),
					huh.NewOption("Simulation", config.OracleSimulate),
				).
				Value(&answers.Oracle),
			huh.NewInput().
				Title("Live price refresh interval").
				Description("Duration string, at least 15s").
				Value(&answers.PriceRefreshInterval).
				Validate(validateInterval),
			huh.NewSelect[string]().
				Title("Full refresh cadence").
				Options(
					huh.NewOption("Fast (30s)", config.RefreshModeFast),
					huh.NewOption("Slow (5m)", config.RefreshModeSlow),
				).
				Value(&answers.RefreshMode),
		),
	).Run()
	if err != nil {
		return "", err
	}

	showStep("STEP 3: SERVER")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Listen address").
				Value(&answers.ListenAddr),
			huh.NewInput().
				Title("TLS domains").
				Description("Comma separated, empty for plain HTTP").
				Value(&answers.TLSDomains),
			huh.NewInput().
				Title("Data directory").
				Value(&answers.DataDir),
			huh.NewInput().
				Title("Admin user").
				Value(&answers.AdminUser),
			huh.NewInput().
				Title("Admin password").
				Description("Empty disables the admin API").
				Value(&answers.AdminPassword).
				EchoMode(huh.EchoModePassword),
		),
	).Run()
	if err != nil {
		return "", err
	}

	showStep("FINAL CONFIRMATION")
	admin := "disabled"
	if answers.AdminPassword != "" {
		admin = answers.AdminUser
	}
	summary := fmt.Sprintf(
		"Email: %s\nOracle: %s\nPrice refresh: %s\nFull refresh: %s\nListen: %s\nAdmin: %s\n",
		answers.Email, answers.Oracle, answers.PriceRefreshInterval, answers.RefreshMode, answers.ListenAddr, admin,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save and start").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return "", err
	}
	if !confirm {
		return "", fmt.Errorf("setup cancelled by user")
	}

	if err := WriteConfig(DefaultConfigFile, answers); err != nil {
		return "", err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s\nStarting walletsync...", DefaultConfigFile)))
	time.Sleep(1500 * time.Millisecond)
	return DefaultConfigFile, nil
}

func validateEmail(s string) error {
	if s == "" {
		return nil
	}
	if _, err := mail.ParseAddress(s); err != nil {
		return fmt.Errorf("invalid email: %s", s)
	}
	return nil
}

func validateInterval(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("must be a duration like 15s")
	}
	if d < config.MinPriceRefreshInterval {
		return fmt.Errorf("must be at least %s", config.MinPriceRefreshInterval)
	}
	return nil
}
