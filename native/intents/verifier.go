package intents

import (
	"log/slog"
	"time"

	"intentlend/core/state"
	"intentlend/crypto"
)

// Verifier checks intents against one configured domain. It never mutates
// state; consumption is recorded by Consume inside the caller's transaction.
type Verifier struct {
	domain     Domain
	validators *ValidatorRegistry
	strict     bool
	nowFn      func() time.Time
	logger     *slog.Logger
}

// NewVerifier returns a verifier bound to domain.
func NewVerifier(domain Domain, validators *ValidatorRegistry) *Verifier {
	if validators == nil {
		validators = NewValidatorRegistry()
	}
	return &Verifier{
		domain:     domain,
		validators: validators,
		nowFn:      time.Now,
		logger:     slog.Default(),
	}
}

// SetStrictErrorTaxonomy selects whether distinct failure causes are reported
// (true) or collapsed into ErrInvalidIntent (false).
func (v *Verifier) SetStrictErrorTaxonomy(strict bool) { v.strict = strict }

func (v *Verifier) StrictErrorTaxonomy() bool { return v.strict }

func (v *Verifier) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	v.nowFn = now
}

func (v *Verifier) SetLogger(logger *slog.Logger) {
	if logger != nil {
		v.logger = logger
	}
}

func (v *Verifier) Domain() Domain { return v.domain }

func (v *Verifier) Validators() *ValidatorRegistry { return v.validators }

// PolicyFor selects the signature policy for signer: signers with a registered
// validator are contract-controlled and delegate, everyone else is checked as
// a plain key.
func (v *Verifier) PolicyFor(signer crypto.Address) SignaturePolicy {
	if _, ok := v.validators.Lookup(signer); ok {
		return DelegatedPolicy{Validators: v.validators}
	}
	return ECDSAPolicy{}
}

func (v *Verifier) classify(specific error) error {
	if v.strict {
		return specific
	}
	return ErrInvalidIntent
}

func (v *Verifier) check(kind string, signer crypto.Address, expireAt uint64, domain Domain, digest func(Domain) ([32]byte, error), sig []byte) ([32]byte, error) {
	if !domain.Equal(v.domain) {
		v.logger.Debug("intent rejected", "kind", kind, "signer", signer.String(), "cause", "domain")
		return [32]byte{}, v.classify(ErrDomainMismatch)
	}
	now := v.nowFn().Unix()
	if now < 0 || expireAt < uint64(now) {
		v.logger.Debug("intent rejected", "kind", kind, "signer", signer.String(), "cause", "expired")
		return [32]byte{}, v.classify(ErrIntentExpired)
	}
	hash, err := digest(v.domain)
	if err != nil {
		return [32]byte{}, v.classify(ErrMalformedIntent)
	}
	if err := v.PolicyFor(signer).Verify(signer, hash, sig); err != nil {
		v.logger.Debug("intent rejected", "kind", kind, "signer", signer.String(), "cause", err.Error())
		return [32]byte{}, v.classify(ErrBadSignature)
	}
	return hash, nil
}

// VerifyBorrowIntent validates intent under domain and returns its hash.
func (v *Verifier) VerifyBorrowIntent(intent *BorrowIntent, sig []byte, domain Domain) ([32]byte, error) {
	if !intent.validate() {
		return [32]byte{}, v.classify(ErrMalformedIntent)
	}
	return v.check("borrow", intent.Borrower, intent.ExpireAt, domain, intent.Hash, sig)
}

// VerifyLendIntent validates intent under domain and returns its hash.
func (v *Verifier) VerifyLendIntent(intent *LendIntent, sig []byte, domain Domain) ([32]byte, error) {
	if !intent.validate() {
		return [32]byte{}, v.classify(ErrMalformedIntent)
	}
	return v.check("lend", intent.LenderSigner, intent.ExpireAt, domain, intent.Hash, sig)
}

// CheckUnused fails when hash has already been consumed.
func (v *Verifier) CheckUnused(tx *state.Tx, hash [32]byte) error {
	consumed, err := tx.IntentConsumed(hash)
	if err != nil {
		return err
	}
	if consumed {
		return v.classify(ErrIntentConsumed)
	}
	return nil
}

// Consume marks hash as spent inside tx.
func (v *Verifier) Consume(tx *state.Tx, hash [32]byte, expireAt uint64) error {
	now := v.nowFn().Unix()
	if now < 0 {
		now = 0
	}
	if err := tx.ConsumeIntent(hash, expireAt, uint64(now)); err != nil {
		if err == state.ErrIntentConsumed {
			return v.classify(ErrIntentConsumed)
		}
		return err
	}
	return nil
}
