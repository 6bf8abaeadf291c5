package state

import "tradesee/native/escrow"

var (
	contractPrefix = []byte("escrow/contract/")
	vaultPrefix    = []byte("escrow/vault/")
	oraclePrefix   = []byte("escrow/oracle/")
	trustPrefix    = []byte("escrow/trust/")
	balancePrefix  = []byte("ledger/balance/")
	noncePrefix    = []byte("account/nonce/")
	genesisKey     = []byte("meta/genesis")
)

func prefixed(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, p := range parts {
		size += len(p)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return buf
}

func contractKey(addr [20]byte) []byte { return prefixed(contractPrefix, addr[:]) }

func vaultKey(addr [20]byte) []byte { return prefixed(vaultPrefix, addr[:]) }

func oracleKey(contract [20]byte) []byte {
	h := escrow.OracleFlagKey(contract)
	return prefixed(oraclePrefix, h[:])
}

func trustKey(authority, counterparty [20]byte) []byte {
	h := escrow.TrustScoreKey(authority, counterparty)
	return prefixed(trustPrefix, h[:])
}

// balanceKey places the mint first so all holders of one asset share a
// prefix.
func balanceKey(mint, owner [20]byte) []byte {
	return prefixed(balancePrefix, mint[:], []byte{':'}, owner[:])
}

func nonceKey(addr [20]byte) []byte { return prefixed(noncePrefix, addr[:]) }
