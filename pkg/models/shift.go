package models

// QuoteRequest asks the swap provider for a fixed-rate quote.
type QuoteRequest struct {
	DepositCoin    string `json:"depositCoin"`
	DepositNetwork string `json:"depositNetwork"`
	SettleCoin     string `json:"settleCoin"`
	SettleNetwork  string `json:"settleNetwork"`
	DepositAmount  string `json:"depositAmount,omitempty"`
	SettleAmount   string `json:"settleAmount,omitempty"`
	AffiliateID    string `json:"affiliateId,omitempty"`
}

// Quote is a fixed-rate offer from the swap provider.
type Quote struct {
	ID             string `json:"id"`
	CreatedAt      string `json:"createdAt,omitempty"`
	DepositCoin    string `json:"depositCoin"`
	DepositNetwork string `json:"depositNetwork"`
	SettleCoin     string `json:"settleCoin"`
	SettleNetwork  string `json:"settleNetwork"`
	DepositAmount  string `json:"depositAmount"`
	SettleAmount   string `json:"settleAmount"`
	Rate           string `json:"rate"`
	ExpiresAt      string `json:"expiresAt"`
}

// ShiftRequest turns a quote into a fixed-rate shift.
type ShiftRequest struct {
	QuoteID       string `json:"quoteId"`
	SettleAddress string `json:"settleAddress"`
	RefundAddress string `json:"refundAddress,omitempty"`
	AffiliateID   string `json:"affiliateId,omitempty"`
}

// ShiftStatus is the provider-side state of a shift.
type ShiftStatus string

const (
	ShiftStatusWaiting    ShiftStatus = "waiting"
	ShiftStatusProcessing ShiftStatus = "processing"
	ShiftStatusReview     ShiftStatus = "review"
	ShiftStatusSettling   ShiftStatus = "settling"
	ShiftStatusSettled    ShiftStatus = "settled"
	ShiftStatusRefunding  ShiftStatus = "refunding"
	ShiftStatusRefunded   ShiftStatus = "refunded"
)

// IsTerminal reports whether no further transition will happen.
func (s ShiftStatus) IsTerminal() bool {
	return s == ShiftStatusSettled || s == ShiftStatusRefunded
}

// Shift is a single cross-chain swap order tracked by the swap provider.
type Shift struct {
	ID             string      `json:"id"`
	CreatedAt      string      `json:"createdAt,omitempty"`
	DepositCoin    string      `json:"depositCoin"`
	DepositNetwork string      `json:"depositNetwork"`
	SettleCoin     string      `json:"settleCoin"`
	SettleNetwork  string      `json:"settleNetwork"`
	DepositAddress string      `json:"depositAddress"`
	SettleAddress  string      `json:"settleAddress"`
	DepositAmount  string      `json:"depositAmount"`
	SettleAmount   string      `json:"settleAmount"`
	ExpiresAt      string      `json:"expiresAt,omitempty"`
	Status         ShiftStatus `json:"status"`
	Rate           string      `json:"rate,omitempty"`
}

// SafeProposal is a multi-sig transaction waiting for N-of-M approvals.
type SafeProposal struct {
	SafeTxHash     string `json:"safe_tx_hash"`
	SafeAddress    string `json:"safe_address"`
	Threshold      int    `json:"threshold"`
	Confirmations  int    `json:"confirmations"`
	IsExecuted     bool   `json:"is_executed"`
	ShiftID        string `json:"shift_id,omitempty"`
	DepositAddress string `json:"deposit_address,omitempty"`
}

// CanExecute reports whether enough owners confirmed and the proposal is still pending. A zero
// threshold means it could not be read and never allows execution.
func (p SafeProposal) CanExecute() bool {
	return !p.IsExecuted && p.Threshold > 0 && p.Confirmations >= p.Threshold
}
