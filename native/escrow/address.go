package escrow

import (
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	contractSeed = []byte("contract")
	vaultSeed    = []byte("escrow_vault")
	trustSeed    = []byte("trust")
	oracleSeed   = []byte("oracle")
)

func hashToAddress(parts ...[]byte) [20]byte {
	digest := ethcrypto.Keccak256(parts...)
	var addr [20]byte
	copy(addr[:], digest[12:])
	return addr
}

// DeriveContractAddress computes the deterministic contract address from the
// initializer and the caller supplied nonce.
func DeriveContractAddress(initializer [20]byte, contractID [32]byte) [20]byte {
	return hashToAddress(contractSeed, initializer[:], contractID[:])
}

// DeriveVaultAddress computes the custody account address of a contract.
func DeriveVaultAddress(contract [20]byte) [20]byte {
	return hashToAddress(vaultSeed, contract[:])
}

// TrustScoreKey identifies the score anchored by authority for counterparty.
func TrustScoreKey(authority, counterparty [20]byte) [32]byte {
	return ethcrypto.Keccak256Hash(trustSeed, authority[:], counterparty[:])
}

// OracleFlagKey identifies the oracle flag of a contract.
func OracleFlagKey(contract [20]byte) [32]byte {
	return ethcrypto.Keccak256Hash(oracleSeed, contract[:])
}
