package lending

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"intentlend/crypto"
	"intentlend/native/intents"
)

// Position is the authoritative collateral and debt of one user in one asset.
type Position struct {
	User       crypto.Address `json:"user"`
	Asset      crypto.Address `json:"asset"`
	Collateral *big.Int       `json:"collateral"`
	Debt       *big.Int       `json:"debt"`
}

func newPosition(user, asset crypto.Address) *Position {
	return &Position{User: user, Asset: asset, Collateral: big.NewInt(0), Debt: big.NewInt(0)}
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := &Position{User: p.User, Asset: p.Asset, Collateral: big.NewInt(0), Debt: big.NewInt(0)}
	if p.Collateral != nil {
		clone.Collateral.Set(p.Collateral)
	}
	if p.Debt != nil {
		clone.Debt.Set(p.Debt)
	}
	return clone
}

// OrderStatus is the lifecycle state of a loan order.
type OrderStatus uint8

const (
	OrderActive OrderStatus = iota + 1
	OrderRepaid
	OrderLiquidated
)

func (s OrderStatus) String() string {
	switch s {
	case OrderActive:
		return "active"
	case OrderRepaid:
		return "repaid"
	case OrderLiquidated:
		return "liquidated"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is allowed.
func (s OrderStatus) Terminal() bool { return s == OrderRepaid || s == OrderLiquidated }

func (s OrderStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *OrderStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "active":
		*s = OrderActive
	case "repaid":
		*s = OrderRepaid
	case "liquidated":
		*s = OrderLiquidated
	default:
		return fmt.Errorf("lending: unknown order status %q", text)
	}
	return nil
}

// Tranche records one lend intent funding an order.
type Tranche struct {
	Lender   crypto.Address  `json:"lender"`
	LendHash intents.Bytes32 `json:"lendHash"`
	Amount   *big.Int        `json:"amount"`
}

// LoanOrder is a loan opened by a match. Lender is always the pool escrow.
type LoanOrder struct {
	ID              uint64          `json:"id"`
	Borrower        crypto.Address  `json:"borrower"`
	Lender          crypto.Address  `json:"lender"`
	BorrowAsset     crypto.Address  `json:"borrowAsset"`
	CollateralAsset crypto.Address  `json:"collateralAsset"`
	BorrowHash      intents.Bytes32 `json:"borrowHash"`
	Principal       *big.Int        `json:"principal"`
	RateBps         uint64          `json:"rateBps"`
	Term            uint64          `json:"term"`
	Start           uint64          `json:"start"`
	Maturity        uint64          `json:"maturity"`
	TotalDue        *big.Int        `json:"totalDue"`
	RepaidAmount    *big.Int        `json:"repaidAmount"`
	// DebtCleared is the share of principal already removed from the
	// borrower's ledger debt by repayments or liquidation.
	DebtCleared    *big.Int    `json:"debtCleared"`
	PenaltyCharged *big.Int    `json:"penaltyCharged"`
	Tranches       []Tranche   `json:"tranches"`
	Status         OrderStatus `json:"status"`
	ClosedAt       uint64      `json:"closedAt"`
}

// Outstanding returns the principal not yet cleared from ledger debt.
func (o *LoanOrder) Outstanding() *big.Int {
	return new(big.Int).Sub(o.Principal, o.DebtCleared)
}

// Remaining returns the amount still payable before the order is repaid.
func (o *LoanOrder) Remaining() *big.Int {
	return new(big.Int).Sub(o.TotalDue, o.RepaidAmount)
}

// Clone returns a deep copy of the order.
func (o *LoanOrder) Clone() *LoanOrder {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Principal = copyInt(o.Principal)
	clone.TotalDue = copyInt(o.TotalDue)
	clone.RepaidAmount = copyInt(o.RepaidAmount)
	clone.DebtCleared = copyInt(o.DebtCleared)
	clone.PenaltyCharged = copyInt(o.PenaltyCharged)
	clone.Tranches = make([]Tranche, len(o.Tranches))
	for i, tr := range o.Tranches {
		clone.Tranches[i] = Tranche{Lender: tr.Lender, LendHash: tr.LendHash, Amount: copyInt(tr.Amount)}
	}
	return &clone
}

// Call identifies who is executing an operation. Origin is the transaction
// initiator; Sender is the immediate caller, which may be a relaying
// contract or service. Authorization and liquidator attribution use Origin.
type Call struct {
	Origin crypto.Address
	Sender crypto.Address
}

// DirectCall is a Call where initiator and sender coincide.
func DirectCall(addr crypto.Address) Call { return Call{Origin: addr, Sender: addr} }

// MatchRequest carries everything finalizeMatch consumes.
type MatchRequest struct {
	Domain      intents.Domain       `json:"domain"`
	Borrow      intents.BorrowIntent `json:"borrowIntent"`
	Lends       []intents.LendIntent `json:"lendIntents"`
	BorrowerSig hexutil.Bytes        `json:"borrowerSig"`
	LenderSigs  []hexutil.Bytes      `json:"lenderSigs"`
}

// Shares is the four-way split of seized collateral.
type Shares struct {
	Platform   *big.Int `json:"platform"`
	Reserve    *big.Int `json:"reserve"`
	Lender     *big.Int `json:"lender"`
	Liquidator *big.Int `json:"liquidator"`
}

// Total sums the shares.
func (s Shares) Total() *big.Int {
	total := new(big.Int)
	for _, v := range []*big.Int{s.Platform, s.Reserve, s.Lender, s.Liquidator} {
		if v != nil {
			total.Add(total, v)
		}
	}
	return total
}

// LiquidationResult describes a completed liquidation.
type LiquidationResult struct {
	OrderID    uint64         `json:"orderId"`
	Liquidator crypto.Address `json:"liquidator"`
	DebtRepaid *big.Int       `json:"debtRepaid"`
	Seized     *big.Int       `json:"seized"`
	Shares     Shares         `json:"shares"`
	Overdue    bool           `json:"overdue"`
	HealthBps  uint64         `json:"healthFactorBps"`
}

// RepayResult describes an accepted repayment.
type RepayResult struct {
	OrderID        uint64      `json:"orderId"`
	Status         OrderStatus `json:"status"`
	RepaidAmount   *big.Int    `json:"repaidAmount"`
	Remaining      *big.Int    `json:"remaining"`
	DebtReduced    *big.Int    `json:"debtReduced"`
	PenaltyPaid    *big.Int    `json:"penaltyPaid"`
	PenaltyAccrued *big.Int    `json:"penaltyAccrued"`
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
