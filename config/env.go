package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"intentlend/crypto"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "INTENTLEND_"

// applyEnvOverrides loads a .env file when present and then applies the
// INTENTLEND_* variables on top of the decoded file.
func applyEnvOverrides(cfg *Config) error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return err
	}
	setString(&cfg.DataDir, "DATA_DIR")
	setString(&cfg.StorageBackend, "STORAGE_BACKEND")
	setUint(&cfg.Lending.MinHealthFactorBps, "MIN_HEALTH_FACTOR_BPS")
	setUint(&cfg.Lending.GraceWindowSeconds, "GRACE_WINDOW_SECONDS")
	setUint(&cfg.Lending.LatePenaltyBpsPerDay, "LATE_PENALTY_BPS_PER_DAY")
	setBool(&cfg.Lending.StrictErrorTaxonomy, "STRICT_ERROR_TAXONOMY")
	setUint(&cfg.Domain.ChainID, "CHAIN_ID")
	if raw, ok := lookup("VERIFYING_CONTRACT"); ok {
		addr, err := crypto.ParseAddress(raw)
		if err != nil {
			return err
		}
		cfg.Domain.VerifyingContract = addr
	}
	setBool(&cfg.Pauses.Lending, "PAUSE_LENDING")
	return nil
}

func lookup(name string) (string, bool) {
	value := strings.TrimSpace(os.Getenv(EnvPrefix + name))
	return value, value != ""
}

func setString(dst *string, name string) {
	if v, ok := lookup(name); ok {
		*dst = v
	}
}

func setUint(dst *uint64, name string) {
	if v, ok := lookup(name); ok {
		if parsed, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = parsed
		}
	}
}

func setBool(dst *bool, name string) {
	if v, ok := lookup(name); ok {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*dst = parsed
		}
	}
}
