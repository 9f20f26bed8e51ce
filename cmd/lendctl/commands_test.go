package main

import (
	"bytes"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"

	"intentlend/crypto"
	"intentlend/native/intents"
)

const testConfig = `[domain]
name = "IntentLend"
version = "1"
chainId = 8453
verifyingContract = "0xcccccccccccccccccccccccccccccccccccccccc"
`

const testPassEnv = "LENDCTL_TEST_PASSPHRASE"

type fixture struct {
	dir      string
	config   string
	keystore string
	key      *crypto.PrivateKey
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "intentlend.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(testConfig), 0o600))

	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	ksPath := filepath.Join(dir, "signer.keystore")
	require.NoError(t, crypto.SaveToKeystore(ksPath, key, "hunter22", crypto.LightKeystore))
	t.Setenv(testPassEnv, "hunter22")
	return fixture{dir: dir, config: cfgPath, keystore: ksPath, key: key}
}

func (f fixture) writeIntent(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	path := filepath.Join(f.dir, "intent.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func borrowIntent(borrower crypto.Address) intents.BorrowIntent {
	return intents.BorrowIntent{
		Borrower:         borrower,
		CollateralAsset:  crypto.MustAddress(bytes.Repeat([]byte{0xc1}, 20)),
		CollateralAmount: big.NewInt(2_000),
		BorrowAsset:      crypto.MustAddress(bytes.Repeat([]byte{0xd1}, 20)),
		Amount:           big.NewInt(1_000),
		TermDays:         30,
		RateBps:          500,
		ExpireAt:         4_102_444_800,
		Salt:             intents.Bytes32{1},
	}
}

func TestSignBorrowRecoversBorrower(t *testing.T) {
	f := newFixture(t)
	intent := borrowIntent(f.key.Address())
	path := f.writeIntent(t, intent)

	var out bytes.Buffer
	err := runSignBorrow([]string{"-config", f.config, "-keystore", f.keystore, "-pass-env", testPassEnv, "-intent", path}, &out)
	require.NoError(t, err)

	var signed signedIntent
	require.NoError(t, json.Unmarshal(out.Bytes(), &signed))
	domain, err := loadDomain(f.config)
	require.NoError(t, err)
	hash, err := intent.Hash(domain)
	require.NoError(t, err)
	require.Equal(t, hexutil.Encode(hash[:]), signed.Hash)

	recovered, err := crypto.RecoverAddress(hash[:], signed.Signature)
	require.NoError(t, err)
	require.Equal(t, f.key.Address(), recovered)
}

func TestSignBorrowRejectsForeignBorrower(t *testing.T) {
	f := newFixture(t)
	other, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	path := f.writeIntent(t, borrowIntent(other.Address()))

	err = runSignBorrow([]string{"-config", f.config, "-keystore", f.keystore, "-pass-env", testPassEnv, "-intent", path}, &bytes.Buffer{})
	require.ErrorContains(t, err, "does not match borrower")
}

func TestHashMatchesSignOutput(t *testing.T) {
	f := newFixture(t)
	lend := intents.LendIntent{
		LenderSigner: f.key.Address(),
		Asset:        crypto.MustAddress(bytes.Repeat([]byte{0xd1}, 20)),
		Amount:       big.NewInt(1_000),
		MinTermDays:  7,
		MaxTermDays:  90,
		MinRateBps:   100,
		ExpireAt:     4_102_444_800,
		Salt:         intents.Bytes32{2},
	}
	path := f.writeIntent(t, lend)

	var hashOut, signOut bytes.Buffer
	require.NoError(t, runHash([]string{"-config", f.config, "-intent", path, "-kind", "lend"}, &hashOut))
	require.NoError(t, runSignLend([]string{"-config", f.config, "-keystore", f.keystore, "-pass-env", testPassEnv, "-intent", path}, &signOut))

	var signed signedIntent
	require.NoError(t, json.Unmarshal(signOut.Bytes(), &signed))
	require.Equal(t, strings.TrimSpace(hashOut.String()), signed.Hash)
}

func TestHashRejectsUnknownKind(t *testing.T) {
	f := newFixture(t)
	path := f.writeIntent(t, borrowIntent(f.key.Address()))
	err := runHash([]string{"-config", f.config, "-intent", path, "-kind", "swap"}, &bytes.Buffer{})
	require.ErrorContains(t, err, "unknown intent kind")
}

func TestKeygenThenAddress(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(testPassEnv, "hunter22")
	path := filepath.Join(dir, "new.keystore")

	var created bytes.Buffer
	require.NoError(t, runKeygen([]string{"-out", path, "-pass-env", testPassEnv, "-light"}, &created))
	var loaded bytes.Buffer
	require.NoError(t, runAddress([]string{"-keystore", path, "-pass-env", testPassEnv}, &loaded))
	require.Equal(t, created.String(), loaded.String())
	require.True(t, strings.HasPrefix(created.String(), "lend1"))

	err := runKeygen([]string{"-out", path, "-pass-env", testPassEnv, "-light"}, &bytes.Buffer{})
	require.ErrorContains(t, err, "already exists")
}

func TestLoadDomainRequiresCompleteSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.toml")
	require.NoError(t, os.WriteFile(path, []byte("[domain]\nname = \"IntentLend\"\n"), 0o600))
	_, err := loadDomain(path)
	require.ErrorContains(t, err, "incomplete")
}
