package events

import (
	"math/big"

	"intentlend/core/types"
	"intentlend/crypto"
)

const (
	// TypePositionUpdated is emitted whenever collateral or debt of a position changes.
	TypePositionUpdated = "lending.position_updated"
	// TypeLoanCreated is emitted once per successful match.
	TypeLoanCreated = "loan.created"
	// TypeLoanRepayment is emitted for every accepted repayment, partial or final.
	TypeLoanRepayment = "loan.repayment"
	// TypeLoanClosed is emitted when an order reaches a terminal state.
	TypeLoanClosed = "loan.closed"
	// TypeLiquidationPayout carries the full four-way split of seized collateral.
	TypeLiquidationPayout = "loan.liquidation_payout"
	// TypePenaltyAccrued is emitted when an overdue penalty could not be paid in full.
	TypePenaltyAccrued = "penalty.accrued"
	// TypePenaltySettled is emitted when accrued penalties are paid down.
	TypePenaltySettled = "penalty.settled"
)

type PositionUpdated struct {
	User       crypto.Address
	Asset      crypto.Address
	Collateral *big.Int
	Debt       *big.Int
}

func (PositionUpdated) EventType() string { return TypePositionUpdated }

func (e PositionUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypePositionUpdated,
		Attributes: map[string]string{
			"user":       addrString(e.User),
			"asset":      assetString(e.Asset),
			"collateral": amountString(e.Collateral),
			"debt":       amountString(e.Debt),
		},
	}
}

type LoanCreated struct {
	OrderID         uint64
	Borrower        crypto.Address
	Lender          crypto.Address
	BorrowAsset     crypto.Address
	CollateralAsset crypto.Address
	Principal       *big.Int
	RateBps         uint64
	Term            uint64
	Maturity        uint64
	Fee             *big.Int
	Tranches        int
}

func (LoanCreated) EventType() string { return TypeLoanCreated }

func (e LoanCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeLoanCreated,
		Attributes: map[string]string{
			"orderId":         uintString(e.OrderID),
			"borrower":        addrString(e.Borrower),
			"lender":          addrString(e.Lender),
			"borrowAsset":     assetString(e.BorrowAsset),
			"collateralAsset": assetString(e.CollateralAsset),
			"principal":       amountString(e.Principal),
			"rateBps":         uintString(e.RateBps),
			"term":            uintString(e.Term),
			"maturity":        uintString(e.Maturity),
			"fee":             amountString(e.Fee),
			"tranches":        uintString(uint64(e.Tranches)),
		},
	}
}

type LoanRepayment struct {
	OrderID     uint64
	Payer       crypto.Address
	Asset       crypto.Address
	Amount      *big.Int
	RepaidTotal *big.Int
	TotalDue    *big.Int
	DebtReduced *big.Int
	Penalty     *big.Int
}

func (LoanRepayment) EventType() string { return TypeLoanRepayment }

func (e LoanRepayment) Event() *types.Event {
	return &types.Event{
		Type: TypeLoanRepayment,
		Attributes: map[string]string{
			"orderId":     uintString(e.OrderID),
			"payer":       addrString(e.Payer),
			"asset":       assetString(e.Asset),
			"amount":      amountString(e.Amount),
			"repaidTotal": amountString(e.RepaidTotal),
			"totalDue":    amountString(e.TotalDue),
			"debtReduced": amountString(e.DebtReduced),
			"penalty":     amountString(e.Penalty),
		},
	}
}

type LoanClosed struct {
	OrderID  uint64
	Borrower crypto.Address
	Status   string
}

func (LoanClosed) EventType() string { return TypeLoanClosed }

func (e LoanClosed) Event() *types.Event {
	return &types.Event{
		Type: TypeLoanClosed,
		Attributes: map[string]string{
			"orderId":  uintString(e.OrderID),
			"borrower": addrString(e.Borrower),
			"status":   e.Status,
		},
	}
}

// LiquidationPayout is the single record consumers use to reconstruct payout
// accounting for a liquidation.
type LiquidationPayout struct {
	OrderID            uint64
	User               crypto.Address
	CollateralAsset    crypto.Address
	Platform           crypto.Address
	Reserve            crypto.Address
	LenderCompensation crypto.Address
	Liquidator         crypto.Address
	PlatformShare      *big.Int
	ReserveShare       *big.Int
	LenderShare        *big.Int
	LiquidatorShare    *big.Int
	Seized             *big.Int
	DebtRepaid         *big.Int
}

func (LiquidationPayout) EventType() string { return TypeLiquidationPayout }

func (e LiquidationPayout) Event() *types.Event {
	return &types.Event{
		Type: TypeLiquidationPayout,
		Attributes: map[string]string{
			"orderId":            uintString(e.OrderID),
			"user":               addrString(e.User),
			"collateralAsset":    assetString(e.CollateralAsset),
			"platform":           addrString(e.Platform),
			"reserve":            addrString(e.Reserve),
			"lenderCompensation": addrString(e.LenderCompensation),
			"liquidator":         addrString(e.Liquidator),
			"platformShare":      amountString(e.PlatformShare),
			"reserveShare":       amountString(e.ReserveShare),
			"lenderShare":        amountString(e.LenderShare),
			"liquidatorShare":    amountString(e.LiquidatorShare),
			"seized":             amountString(e.Seized),
			"debtRepaid":         amountString(e.DebtRepaid),
		},
	}
}

type PenaltyAccrued struct {
	User    crypto.Address
	Asset   crypto.Address
	OrderID uint64
	Amount  *big.Int
	Total   *big.Int
}

func (PenaltyAccrued) EventType() string { return TypePenaltyAccrued }

func (e PenaltyAccrued) Event() *types.Event {
	return &types.Event{
		Type: TypePenaltyAccrued,
		Attributes: map[string]string{
			"user":    addrString(e.User),
			"asset":   assetString(e.Asset),
			"orderId": uintString(e.OrderID),
			"amount":  amountString(e.Amount),
			"total":   amountString(e.Total),
		},
	}
}

type PenaltySettled struct {
	User      crypto.Address
	Asset     crypto.Address
	Amount    *big.Int
	Remaining *big.Int
}

func (PenaltySettled) EventType() string { return TypePenaltySettled }

func (e PenaltySettled) Event() *types.Event {
	return &types.Event{
		Type: TypePenaltySettled,
		Attributes: map[string]string{
			"user":      addrString(e.User),
			"asset":     assetString(e.Asset),
			"amount":    amountString(e.Amount),
			"remaining": amountString(e.Remaining),
		},
	}
}
