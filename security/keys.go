// Package security implements the Security-CC encrypted transaction
// sub-protocol: nonce get/report, AES-OFB encryption, the
// truncated-CBC-MAC authentication tag, and key derivation.
package security

import ("crypto/aes"
	"fmt")

// encryptConstant and authConstant are the two fixed 16-byte inputs the
// network key is AES-ECB-encrypted against to derive the working keys.
// These are the values fixed by the Z-Wave Security Command Class
// specification.
var (encryptConstant = [16]byte{
		0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA,
		0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA,
	}
	authConstant = [16]byte{
		0x55, 0x55, 0x55, 0x55, 0x55, 0x55, 0x55, 0x55,
		0x55, 0x55, 0x55, 0x55, 0x55, 0x55, 0x55, 0x55,
	})

// TemporaryInclusionKey is the all-zeros network key used while a node is
// being securely added, before the real key is transferred.
var TemporaryInclusionKey = [16]byte{}

// Keys holds the two symmetric keys derived from a 16-byte network key.
type Keys struct {
	EncryptKey [16]byte
	AuthKey [16]byte
}

// DeriveKeys computes EncryptKey and AuthKey by AES-ECB-encrypting the two
// fixed constants under networkKey.
func DeriveKeys(networkKey [16]byte) (Keys, error) {
	block, err := aes.NewCipher(networkKey[:])
	if err != nil {
		return Keys{}, fmt.Errorf("security: key schedule: %w", err)
	}
	var k Keys
	block.Encrypt(k.EncryptKey[:], encryptConstant[:])
	block.Encrypt(k.AuthKey[:], authConstant[:])
	return k, nil
}
