package intents

import (
	"errors"
	"sync"

	"intentlend/crypto"
)

var (
	errSignatureLength = errors.New("intents: signature must be 65 bytes")
	errSignerMismatch  = errors.New("intents: recovered signer mismatch")
	errPolicyRejected  = errors.New("intents: signer policy rejected digest")
)

// SignaturePolicy decides whether sig authorises digest on behalf of signer.
type SignaturePolicy interface {
	Verify(signer crypto.Address, digest [32]byte, sig []byte) error
}

// ECDSAPolicy accepts signatures that recover to the signer address.
type ECDSAPolicy struct{}

func (ECDSAPolicy) Verify(signer crypto.Address, digest [32]byte, sig []byte) error {
	if len(sig) != crypto.SignatureLength {
		return errSignatureLength
	}
	recovered, err := crypto.RecoverAddress(digest[:], sig)
	if err != nil {
		return err
	}
	if recovered != signer {
		return errSignerMismatch
	}
	return nil
}

// Validator is the validation hook of a contract-controlled signer. It sees
// the computed digest and whatever bytes were supplied, which may be empty.
type Validator interface {
	IsValidSignature(digest [32]byte, sig []byte) bool
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(digest [32]byte, sig []byte) bool

func (f ValidatorFunc) IsValidSignature(digest [32]byte, sig []byte) bool { return f(digest, sig) }

// RejectAll never validates anything.
var RejectAll Validator = ValidatorFunc(func([32]byte, []byte) bool { return false })

// ApprovedDigests validates a fixed set of pre-approved digests regardless of
// the supplied bytes, the way a pooled signer approves messages on-chain.
type ApprovedDigests struct {
	mu       sync.RWMutex
	approved map[[32]byte]bool
}

func NewApprovedDigests() *ApprovedDigests {
	return &ApprovedDigests{approved: make(map[[32]byte]bool)}
}

func (a *ApprovedDigests) Approve(digest [32]byte) {
	a.mu.Lock()
	a.approved[digest] = true
	a.mu.Unlock()
}

func (a *ApprovedDigests) Revoke(digest [32]byte) {
	a.mu.Lock()
	delete(a.approved, digest)
	a.mu.Unlock()
}

func (a *ApprovedDigests) IsValidSignature(digest [32]byte, _ []byte) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.approved[digest]
}

// OwnerSigned validates ECDSA signatures produced by any one of its owners.
type OwnerSigned struct {
	Owners []crypto.Address
}

func (o OwnerSigned) IsValidSignature(digest [32]byte, sig []byte) bool {
	if len(sig) != crypto.SignatureLength {
		return false
	}
	recovered, err := crypto.RecoverAddress(digest[:], sig)
	if err != nil {
		return false
	}
	for _, owner := range o.Owners {
		if owner == recovered {
			return true
		}
	}
	return false
}

// ValidatorRegistry maps contract signers to their validators.
type ValidatorRegistry struct {
	mu         sync.RWMutex
	validators map[crypto.Address]Validator
}

func NewValidatorRegistry() *ValidatorRegistry {
	return &ValidatorRegistry{validators: make(map[crypto.Address]Validator)}
}

func (r *ValidatorRegistry) Register(signer crypto.Address, v Validator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v == nil {
		delete(r.validators, signer)
		return
	}
	r.validators[signer] = v
}

func (r *ValidatorRegistry) Lookup(signer crypto.Address) (Validator, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.validators[signer]
	return v, ok
}

// DelegatedPolicy hands the decision to the signer's registered validator.
type DelegatedPolicy struct {
	Validators *ValidatorRegistry
}

func (p DelegatedPolicy) Verify(signer crypto.Address, digest [32]byte, sig []byte) error {
	v, ok := p.Validators.Lookup(signer)
	if !ok || !v.IsValidSignature(digest, sig) {
		return errPolicyRejected
	}
	return nil
}
