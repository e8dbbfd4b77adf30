package setup

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/walletsync/internal/domain"
	"github.com/vadiminshakov/walletsync/internal/services/admin"
)

type balanceEditor interface {
	ListUsers(ctx context.Context) ([]domain.UserRecord, error)
	Overview(ctx context.Context) (admin.Overview, error)
	SetBalance(ctx context.Context, email string, edit admin.BalanceEdit) (domain.UserRecord, error)
}

// EditAnswers is what the operator typed into the balance editor.
type EditAnswers struct {
	Balance             string
	Holdings            map[string]string
	DeductionPercentage string
	SendMessage         string
	Note                string
}

// BalanceEdit turns the answers into an admin edit. Blank holdings are left
// untouched; the send message is only written when given.
func (a EditAnswers) BalanceEdit() admin.BalanceEdit {
	edit := admin.BalanceEdit{
		Balance:             strings.TrimSpace(a.Balance),
		DeductionPercentage: strings.TrimSpace(a.DeductionPercentage),
		Note:                strings.TrimSpace(a.Note),
	}
	for symbol, amount := range a.Holdings {
		if amount = strings.TrimSpace(amount); amount != "" {
			if edit.Portfolio == nil {
				edit.Portfolio = make(map[string]string)
			}
			edit.Portfolio[symbol] = amount
		}
	}
	if msg := strings.TrimSpace(a.SendMessage); msg != "" {
		edit.SendMessage = &msg
	}
	return edit
}

func editAnswersFor(rec domain.UserRecord) EditAnswers {
	answers := EditAnswers{
		Balance:             rec.Balance,
		Holdings:            make(map[string]string),
		DeductionPercentage: rec.DeductionPercentage,
		SendMessage:         rec.SendMessage,
	}
	for _, asset := range domain.SupportedAssets() {
		answers.Holdings[asset.Symbol] = rec.Portfolio[asset.Symbol]
	}
	return answers
}

// RunBalanceEditor lets an operator pick a user and edit the stored balance,
// holdings and fee settings. The write is validated by the admin service.
func RunBalanceEditor(ctx context.Context, svc balanceEditor) error {
	users, err := svc.ListUsers(ctx)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		return fmt.Errorf("no users to edit")
	}
	overview, err := svc.Overview(ctx)
	if err != nil {
		return err
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("WALLETSYNC BALANCE EDITOR"))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render(fmt.Sprintf(
		"%d users, %d active, total balance %s\n",
		overview.TotalUsers, overview.ActiveUsers, domain.FormatUSD(overview.TotalBalance))))

	options := make([]huh.Option[string], 0, len(users))
	byEmail := make(map[string]domain.UserRecord, len(users))
	for _, u := range users {
		label := fmt.Sprintf("%s (%s)", u.Email, domain.FormatUSD(u.StoredBalance()))
		options = append(options, huh.NewOption(label, u.Email))
		byEmail[u.Email] = u
	}

	var email string
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("User").
				Options(options...).
				Value(&email),
		),
	).Run()
	if err != nil {
		return err
	}

	answers := editAnswersFor(byEmail[email])
	fields := []huh.Field{
		huh.NewInput().
			Title("Stored balance (USD)").
			Value(&answers.Balance).
			Validate(validateNonNegative),
	}
	holdings := make(map[string]*string, len(answers.Holdings))
	for _, asset := range domain.SupportedAssets() {
		v := answers.Holdings[asset.Symbol]
		holdings[asset.Symbol] = &v
		fields = append(fields, huh.NewInput().
			Title(asset.Symbol+" amount").
			Description(asset.Name).
			Value(&v).
			Validate(func(s string) error {
				if s == "" {
					return nil
				}
				return validateNonNegative(s)
			}))
	}
	fields = append(fields,
		huh.NewInput().
			Title("Network fee %").
			Description("0-100, applied to simulated sends").
			Value(&answers.DeductionPercentage),
		huh.NewInput().
			Title("Send message").
			Description("Shown when no fee applies").
			Value(&answers.SendMessage),
		huh.NewInput().
			Title("Note").
			Value(&answers.Note),
	)

	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return err
	}
	for symbol, v := range holdings {
		answers.Holdings[symbol] = *v
	}

	rec, err := svc.SetBalance(ctx, email, answers.BalanceEdit())
	if err != nil {
		return err
	}
	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(
		fmt.Sprintf("\n✓ %s now holds %s", rec.Email, domain.FormatUSD(rec.StoredBalance()))))
	return nil
}

func validateNonNegative(s string) error {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if d.IsNegative() {
		return fmt.Errorf("must not be negative")
	}
	return nil
}
