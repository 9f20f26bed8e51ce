package lending

import (
	"fmt"
	"math"
	"math/big"
	"sync"

	"intentlend/core/state"
	"intentlend/crypto"
)

// MaxHealthFactor is reported for positions without debt.
const MaxHealthFactor = math.MaxUint64

// PriceOracle quotes the value of one base unit of asset, scaled by 1e18.
type PriceOracle interface {
	Price(asset crypto.Address) (*big.Int, error)
}

// StaticOracle serves operator-set prices.
type StaticOracle struct {
	mu     sync.RWMutex
	prices map[crypto.Address]*big.Int
}

func NewStaticOracle() *StaticOracle {
	return &StaticOracle{prices: make(map[crypto.Address]*big.Int)}
}

// Set records the 1e18-scaled price of asset.
func (o *StaticOracle) Set(asset crypto.Address, price *big.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[asset] = new(big.Int).Set(price)
}

func (o *StaticOracle) Price(asset crypto.Address) (*big.Int, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	price, ok := o.prices[asset]
	if !ok || price.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrPriceUnavailable, asset.Hex())
	}
	return new(big.Int).Set(price), nil
}

// RiskEvaluator computes health factors over every position of a user.
type RiskEvaluator struct {
	ledger             *Ledger
	oracle             PriceOracle
	minHealthFactorBps uint64
}

func NewRiskEvaluator(ledger *Ledger, oracle PriceOracle, minHealthFactorBps uint64) *RiskEvaluator {
	return &RiskEvaluator{ledger: ledger, oracle: oracle, minHealthFactorBps: minHealthFactorBps}
}

func (r *RiskEvaluator) MinHealthFactorBps() uint64 { return r.minHealthFactorBps }

// Value converts amount of asset into the common valuation unit.
func (r *RiskEvaluator) Value(asset crypto.Address, amount *big.Int) (*big.Int, error) {
	if amount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	price, err := r.oracle.Price(asset)
	if err != nil {
		return nil, err
	}
	return mulDiv(amount, price, priceScale), nil
}

// Units converts a value back into base units of asset, rounding down.
func (r *RiskEvaluator) Units(asset crypto.Address, value *big.Int) (*big.Int, error) {
	if value.Sign() == 0 {
		return big.NewInt(0), nil
	}
	price, err := r.oracle.Price(asset)
	if err != nil {
		return nil, err
	}
	return mulDiv(value, priceScale, price), nil
}

// Values returns the total collateral and debt value of user.
func (r *RiskEvaluator) Values(tx *state.Tx, user crypto.Address) (*big.Int, *big.Int, error) {
	positions, err := r.ledger.Positions(tx, user)
	if err != nil {
		return nil, nil, err
	}
	collateral, debt := new(big.Int), new(big.Int)
	for _, pos := range positions {
		if pos.Collateral.Sign() > 0 {
			v, err := r.Value(pos.Asset, pos.Collateral)
			if err != nil {
				return nil, nil, err
			}
			collateral.Add(collateral, v)
		}
		if pos.Debt.Sign() > 0 {
			v, err := r.Value(pos.Asset, pos.Debt)
			if err != nil {
				return nil, nil, err
			}
			debt.Add(debt, v)
		}
	}
	return collateral, debt, nil
}

// HealthFactorFromValues returns collateralValue×10000/debtValue in basis
// points, saturating at MaxHealthFactor.
func HealthFactorFromValues(collateralValue, debtValue *big.Int) uint64 {
	if debtValue.Sign() == 0 {
		return MaxHealthFactor
	}
	hf := mulDiv(collateralValue, basisPoints, debtValue)
	if !hf.IsUint64() {
		return MaxHealthFactor
	}
	return hf.Uint64()
}

// HealthFactor returns the user's health factor in basis points.
func (r *RiskEvaluator) HealthFactor(tx *state.Tx, user crypto.Address) (uint64, error) {
	collateral, debt, err := r.Values(tx, user)
	if err != nil {
		return 0, err
	}
	return HealthFactorFromValues(collateral, debt), nil
}

// IsLiquidatable reports whether the user's health factor is below the
// minimum.
func (r *RiskEvaluator) IsLiquidatable(tx *state.Tx, user crypto.Address) (bool, uint64, error) {
	hf, err := r.HealthFactor(tx, user)
	if err != nil {
		return false, 0, err
	}
	return hf < r.minHealthFactorBps, hf, nil
}
