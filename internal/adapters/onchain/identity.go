package onchain

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressFromKey deriva la dirección de una clave privada en hex, con o sin
// prefijo 0x.
func AddressFromKey(privateKeyHex string) (common.Address, error) {
	pkBytes, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("onchain.AddressFromKey: decode private key: %w", err)
	}
	privKey, err := crypto.ToECDSA(pkBytes)
	if err != nil {
		return common.Address{}, fmt.Errorf("onchain.AddressFromKey: invalid private key: %w", err)
	}
	return crypto.PubkeyToAddress(privKey.PublicKey), nil
}
