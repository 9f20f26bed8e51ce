package intents

import (
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"intentlend/crypto"
)

var (
	borrowIntentTypeHash = ethcrypto.Keccak256([]byte(
		"BorrowIntent(address borrower,address collateralAsset,uint256 collateralAmount,address borrowAsset,uint256 amount,uint256 termDays,uint256 rateBps,uint256 expireAt,bytes32 salt)",
	))
	lendIntentTypeHash = ethcrypto.Keccak256([]byte(
		"LendIntent(address lenderSigner,address asset,uint256 amount,uint256 minTermDays,uint256 maxTermDays,uint256 minRateBps,uint256 expireAt,bytes32 salt)",
	))
)

// TermDaysLimit bounds the term of a borrow intent so maturities stay within
// the range of a unix timestamp.
const TermDaysLimit = 36_500

// BorrowIntent expresses a borrower's willingness to lock collateral for a
// loan on fixed terms.
type BorrowIntent struct {
	Borrower         crypto.Address `json:"borrower"`
	CollateralAsset  crypto.Address `json:"collateralAsset"`
	CollateralAmount *big.Int       `json:"collateralAmount"`
	BorrowAsset      crypto.Address `json:"borrowAsset"`
	Amount           *big.Int       `json:"amount"`
	TermDays         uint64         `json:"termDays"`
	RateBps          uint64         `json:"rateBps"`
	ExpireAt         uint64         `json:"expireAt"`
	Salt             Bytes32        `json:"salt"`
}

// LendIntent expresses a lender's standing offer within a range of terms.
type LendIntent struct {
	LenderSigner crypto.Address `json:"lenderSigner"`
	Asset        crypto.Address `json:"asset"`
	Amount       *big.Int       `json:"amount"`
	MinTermDays  uint64         `json:"minTermDays"`
	MaxTermDays  uint64         `json:"maxTermDays"`
	MinRateBps   uint64         `json:"minRateBps"`
	ExpireAt     uint64         `json:"expireAt"`
	Salt         Bytes32        `json:"salt"`
}

// StructHash returns the EIP-712 struct hash of the intent.
func (b *BorrowIntent) StructHash() ([]byte, error) {
	collateral, err := bigWord(b.CollateralAmount)
	if err != nil {
		return nil, err
	}
	amount, err := bigWord(b.Amount)
	if err != nil {
		return nil, err
	}
	return ethcrypto.Keccak256(concatBytes(
		borrowIntentTypeHash,
		addressWord(b.Borrower),
		addressWord(b.CollateralAsset),
		collateral,
		addressWord(b.BorrowAsset),
		amount,
		uintWord(b.TermDays),
		uintWord(b.RateBps),
		uintWord(b.ExpireAt),
		b.Salt[:],
	)), nil
}

// Hash returns the domain-bound digest that identifies and is signed for
// the intent.
func (b *BorrowIntent) Hash(domain Domain) ([32]byte, error) {
	structHash, err := b.StructHash()
	if err != nil {
		return [32]byte{}, err
	}
	return typedDataHash(domain.Separator(), structHash), nil
}

func (b *BorrowIntent) validate() bool {
	return b != nil &&
		!b.Borrower.IsZero() &&
		!b.CollateralAsset.IsZero() &&
		!b.BorrowAsset.IsZero() &&
		b.CollateralAmount != nil && b.CollateralAmount.Sign() > 0 &&
		b.Amount != nil && b.Amount.Sign() > 0 &&
		b.TermDays > 0 && b.TermDays <= TermDaysLimit
}

// StructHash returns the EIP-712 struct hash of the intent.
func (l *LendIntent) StructHash() ([]byte, error) {
	amount, err := bigWord(l.Amount)
	if err != nil {
		return nil, err
	}
	return ethcrypto.Keccak256(concatBytes(
		lendIntentTypeHash,
		addressWord(l.LenderSigner),
		addressWord(l.Asset),
		amount,
		uintWord(l.MinTermDays),
		uintWord(l.MaxTermDays),
		uintWord(l.MinRateBps),
		uintWord(l.ExpireAt),
		l.Salt[:],
	)), nil
}

// Hash returns the domain-bound digest that identifies and is signed for
// the intent.
func (l *LendIntent) Hash(domain Domain) ([32]byte, error) {
	structHash, err := l.StructHash()
	if err != nil {
		return [32]byte{}, err
	}
	return typedDataHash(domain.Separator(), structHash), nil
}

func (l *LendIntent) validate() bool {
	return l != nil &&
		!l.LenderSigner.IsZero() &&
		!l.Asset.IsZero() &&
		l.Amount != nil && l.Amount.Sign() > 0 &&
		l.MinTermDays <= l.MaxTermDays
}

// Accepts reports whether the lend intent's bounds admit the borrow terms.
func (l *LendIntent) Accepts(b *BorrowIntent) bool {
	if l == nil || b == nil {
		return false
	}
	return l.Asset == b.BorrowAsset &&
		b.TermDays >= l.MinTermDays &&
		b.TermDays <= l.MaxTermDays &&
		b.RateBps >= l.MinRateBps
}
