package keys

import "encoding/json"

// Account is the immutable per-device identity: a signing key pair plus the
// address derived from its public key. Its JSON form includes the private
// scalar.
type Account struct {
	KeyPair *KeyPair
	Address string
}

// accountJSON is the on-disk/KeyStore JSON shape for Account.
type accountJSON struct {
	PrivateKeyB64 string `json:"private_key"`
	Address       string `json:"address"`
}

// New generates a fresh Account.
func New() (*Account, error) {
	kp, err := Generate()
	if err != nil {
		return nil, err
	}
	return &Account{KeyPair: kp, Address: Address(kp.Pub)}, nil
}

// Recover reconstructs an Account from a raw 32-byte private scalar (the
// client's "recover(bytes)" operation).
func Recover(privBytes []byte) (*Account, error) {
	kp, err := FromPrivateBytes(privBytes)
	if err != nil {
		return nil, err
	}
	return &Account{KeyPair: kp, Address: Address(kp.Pub)}, nil
}

// MarshalJSON implements json.Marshaler for KeyStore persistence.
func (a *Account) MarshalJSON() ([]byte, error) {
	if a == nil || a.KeyPair == nil {
		return json.Marshal(accountJSON{})
	}
	return json.Marshal(accountJSON{
		PrivateKeyB64: b64(a.KeyPair.PrivateBytes()),
		Address:       a.Address,
	})
}

// UnmarshalJSON implements json.Unmarshaler for KeyStore persistence.
func (a *Account) UnmarshalJSON(data []byte) error {
	var raw accountJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	privBytes, err := b64decode(raw.PrivateKeyB64)
	if err != nil {
		return err
	}
	kp, err := FromPrivateBytes(privBytes)
	if err != nil {
		return err
	}
	a.KeyPair = kp
	a.Address = raw.Address
	return nil
}
