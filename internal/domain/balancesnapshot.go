package domain

import "time"

// BalanceView is what the dashboard renders for the signed-in user.
// Uses string fields so the web layer never formats money itself.
type BalanceView struct {
	Timestamp    time.Time     `json:"ts"`
	Email        string        `json:"email"`
	DisplayValue string        `json:"display_value"`
	ChangeLabel  string        `json:"change"`
	Loaded       bool          `json:"loaded"`
	LivePriced   bool          `json:"live_priced"`
	Masked       bool          `json:"masked"`
	Holdings     []HoldingView `json:"holdings"`
}

// HoldingView is one row of the portfolio table.
type HoldingView struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
	Amount string `json:"amount"`
	Value  string `json:"value"`
	Price  string `json:"price"`
	Change string `json:"change"`
	Image  string `json:"image"`
}

// NewHoldingView renders a holding. Price and change stay "--" until live prices arrived.
func NewHoldingView(h Holding, livePriced, masked bool) HoldingView {
	view := HoldingView{
		Symbol: h.Symbol,
		Name:   h.DisplayName,
		Amount: h.Amount.StringFixed(4),
		Value:  FormatUSD(h.Value()),
		Price:  PlaceholderChange,
		Change: PlaceholderChange,
		Image:  h.Image,
	}
	if livePriced {
		view.Price = FormatUSD(h.UnitPrice)
		view.Change = FormatChange(h.Change24h)
	}
	if masked {
		view.Amount = Mask(view.Amount)
		view.Value = Mask(view.Value)
	}
	return view
}

// BalanceViewRecord bundles a view with its log index.
type BalanceViewRecord struct {
	Index uint64
	View  BalanceView
}
