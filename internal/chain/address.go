package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
)

// ValidateAddress 按链的地址体系校验地址格式
func ValidateAddress(chainName, address string) error {
	info, ok := Lookup(chainName)
	if !ok {
		return fmt.Errorf("unsupported chain %q", chainName)
	}
	switch info.Family {
	case FamilyEVM:
		if !common.IsHexAddress(address) {
			return fmt.Errorf("not a valid evm address: %q", address)
		}
	case FamilySolana:
		if _, err := solana.PublicKeyFromBase58(address); err != nil {
			return fmt.Errorf("not a valid solana address: %w", err)
		}
	}
	return nil
}

// NormalizeAddress EVM 地址统一小写，Solana 地址大小写敏感保持原样
func NormalizeAddress(chainName, address string) string {
	address = strings.TrimSpace(address)
	if info, ok := Lookup(chainName); ok && info.Family == FamilyEVM {
		return strings.ToLower(address)
	}
	return address
}

// ChecksumAddress 返回 EIP-55 格式地址，非 EVM 链原样返回
func ChecksumAddress(chainName, address string) string {
	if info, ok := Lookup(chainName); ok && info.Family == FamilyEVM && common.IsHexAddress(address) {
		return common.HexToAddress(address).Hex()
	}
	return address
}
