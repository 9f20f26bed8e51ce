package intents

import (
	"intentlend/crypto"
)

// SignBorrowIntent signs the intent's domain-bound digest with key.
func SignBorrowIntent(key *crypto.PrivateKey, intent *BorrowIntent, domain Domain) ([]byte, error) {
	hash, err := intent.Hash(domain)
	if err != nil {
		return nil, err
	}
	return key.Sign(hash[:])
}

// SignLendIntent signs the intent's domain-bound digest with key.
func SignLendIntent(key *crypto.PrivateKey, intent *LendIntent, domain Domain) ([]byte, error) {
	hash, err := intent.Hash(domain)
	if err != nil {
		return nil, err
	}
	return key.Sign(hash[:])
}
