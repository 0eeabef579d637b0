package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"io/ioutil"
	"os"
	"path"
	"time"
)

// Wallet holds a key pair and the address derived from the public key.
type Wallet struct {
	PrivateKey string  `json:"private_key"`
	PublicKey  string  `json:"public_key"`
	Address    string  `json:"address"`
	CreatedAt  float64 `json:"created_at"`
}

// GenerateWallet creates a new wallet. The public key is derived by hashing
// the private key and the address is the first 40 hex characters of the
// hashed public key.
func GenerateWallet() (*Wallet, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}

	privateKey := base64.StdEncoding.EncodeToString(raw)
	publicKey := SHA256Hex([]byte(privateKey))
	address := SHA256Hex([]byte(publicKey))[:40]

	return &Wallet{
		PrivateKey: privateKey,
		PublicKey:  publicKey,
		Address:    address,
		CreatedAt:  float64(time.Now().UnixNano()) / 1e9,
	}, nil
}

// ValidAddress reports whether address is 40 lowercase hex characters.
func ValidAddress(address string) bool {
	if len(address) != 40 {
		return false
	}
	for _, c := range address {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// WriteFile saves the wallet as JSON with owner-only permissions.
func (w *Wallet) WriteFile(file string) error {
	if err := os.MkdirAll(path.Dir(file), 0700); err != nil {
		return err
	}

	raw, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return err
	}

	return ioutil.WriteFile(file, raw, 0600)
}

// ReadWalletFile loads a wallet previously saved with WriteFile.
func ReadWalletFile(file string) (*Wallet, error) {
	raw, err := ioutil.ReadFile(file)
	if err != nil {
		return nil, err
	}

	wallet := new(Wallet)
	if err := json.Unmarshal(raw, wallet); err != nil {
		return nil, err
	}

	return wallet, nil
}
