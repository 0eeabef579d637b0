package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Signer abstracts transaction signing and verification. The network does not
// mandate a particular scheme; a transaction only needs a non-empty signature
// to be considered signed.
type Signer interface {
	Sign(data map[string]interface{}, privateKey string) string
	Verify(data map[string]interface{}, signature string, publicKey string) bool
}

// SimpleSigner derives signatures by hashing the private key together with the
// canonical JSON form of the data. It is a stand-in, not a real signature
// scheme.
type SimpleSigner struct{}

// Sign returns the hex SHA256 of the private key concatenated with the
// canonical JSON encoding of data.
func (SimpleSigner) Sign(data map[string]interface{}, privateKey string) string {
	canonical, _ := json.Marshal(data)
	sum := sha256.Sum256(append([]byte(privateKey), canonical...))
	return hex.EncodeToString(sum[:])
}

// Verify accepts any non-empty signature.
func (SimpleSigner) Verify(data map[string]interface{}, signature string, publicKey string) bool {
	return signature != ""
}

// SHA256Hex returns the hex-encoded SHA256 hash of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashObject hashes the canonical JSON encoding of an object. encoding/json
// sorts map keys, which gives a stable encoding for map payloads.
func HashObject(data map[string]interface{}) string {
	canonical, _ := json.Marshal(data)
	return SHA256Hex(canonical)
}
