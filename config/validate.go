package config

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"intentlend/crypto"
	nativecommon "intentlend/native/common"
	"intentlend/native/intents"
)

var errDomainIncomplete = errors.New("domain: name, version, chainId and verifyingContract are required")

// Validate checks the full configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Lending.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Accounts.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("accounts: %w", err))
	}
	if strings.TrimSpace(c.Domain.Name) == "" || strings.TrimSpace(c.Domain.Version) == "" ||
		c.Domain.ChainID == 0 || c.Domain.VerifyingContract.IsZero() {
		errs = append(errs, errDomainIncomplete)
	}
	switch c.StorageBackend {
	case "leveldb", "memory":
	default:
		errs = append(errs, fmt.Errorf("storageBackend: unsupported %q", c.StorageBackend))
	}
	if _, err := c.ParsedPrices(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.ParsedRoles(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Validators(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParsedPrices converts the price table into runtime values.
func (c *Config) ParsedPrices() (map[crypto.Address]*big.Int, error) {
	out := make(map[crypto.Address]*big.Int, len(c.Prices))
	for rawAsset, rawPrice := range c.Prices {
		asset, err := crypto.ParseAddress(rawAsset)
		if err != nil {
			return nil, fmt.Errorf("prices: asset %q: %w", rawAsset, err)
		}
		price, ok := new(big.Int).SetString(strings.TrimSpace(rawPrice), 10)
		if !ok || price.Sign() <= 0 {
			return nil, fmt.Errorf("prices: invalid price %q for %s", rawPrice, rawAsset)
		}
		out[asset] = price
	}
	return out, nil
}

// ParsedRoles converts the genesis role table into role bitsets.
func (c *Config) ParsedRoles() (map[crypto.Address]nativecommon.Role, error) {
	out := make(map[crypto.Address]nativecommon.Role, len(c.Roles))
	for rawHolder, names := range c.Roles {
		holder, err := crypto.ParseAddress(rawHolder)
		if err != nil {
			return nil, fmt.Errorf("roles: holder %q: %w", rawHolder, err)
		}
		roles, err := nativecommon.ParseRoles(names...)
		if err != nil {
			return nil, fmt.Errorf("roles: %s: %w", rawHolder, err)
		}
		out[holder] |= roles
	}
	return out, nil
}

// Validators builds the delegated-signature registry from the delegate table.
// Every contract signer is served by an owner-signed validator.
func (c *Config) Validators() (*intents.ValidatorRegistry, error) {
	reg := intents.NewValidatorRegistry()
	for rawSigner, rawOwners := range c.Delegates {
		signer, err := crypto.ParseAddress(rawSigner)
		if err != nil {
			return nil, fmt.Errorf("delegates: signer %q: %w", rawSigner, err)
		}
		if len(rawOwners) == 0 {
			return nil, fmt.Errorf("delegates: %s has no owners", rawSigner)
		}
		owners := make([]crypto.Address, 0, len(rawOwners))
		for _, rawOwner := range rawOwners {
			owner, err := crypto.ParseAddress(rawOwner)
			if err != nil {
				return nil, fmt.Errorf("delegates: %s owner %q: %w", rawSigner, rawOwner, err)
			}
			owners = append(owners, owner)
		}
		reg.Register(signer, intents.OwnerSigned{Owners: owners})
	}
	return reg, nil
}
