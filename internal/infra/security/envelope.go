package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/qisslab/entativa-id-security/internal/core/domain"
)

const dataKeyLength = 32

var (
	// ErrUnknownKeyID is returned when a record references a master key this
	// envelope does not hold.
	ErrUnknownKeyID = errors.New("envelope: unknown key id")
	// ErrIntegrity is returned when authenticated decryption fails. Callers
	// must treat this as fatal for the operation, never retry with weaker
	// checks.
	ErrIntegrity = errors.New("envelope: integrity check failed")
)

// Envelope seals factor secrets and biometric templates with a per-record
// data key, wrapping the data key under a master key that lives outside the
// record. Only the key id, wrapped data key, nonce and ciphertext are stored.
type Envelope struct {
	keyID  string
	master []byte
}

// NewEnvelope constructs an Envelope over a 32-byte master key.
func NewEnvelope(keyID string, masterKey []byte) (*Envelope, error) {
	if keyID == "" {
		return nil, fmt.Errorf("envelope: key id is required")
	}
	if len(masterKey) != dataKeyLength {
		return nil, fmt.Errorf("envelope: master key must be %d bytes", dataKeyLength)
	}
	key := make([]byte, dataKeyLength)
	copy(key, masterKey)
	return &Envelope{keyID: keyID, master: key}, nil
}

// Seal encrypts plaintext under a fresh random data key and wraps that key
// under the master key.
func (e *Envelope) Seal(plaintext []byte) (domain.EncryptedSecret, error) {
	dataKey := make([]byte, dataKeyLength)
	if _, err := rand.Read(dataKey); err != nil {
		return domain.EncryptedSecret{}, fmt.Errorf("generate data key: %w", err)
	}

	nonce, ciphertext, err := gcmSeal(dataKey, plaintext)
	if err != nil {
		return domain.EncryptedSecret{}, err
	}

	wrapNonce, wrappedKey, err := gcmSeal(e.master, dataKey)
	if err != nil {
		return domain.EncryptedSecret{}, err
	}

	return domain.EncryptedSecret{
		KeyID:      e.keyID,
		WrappedKey: append(wrapNonce, wrappedKey...),
		Nonce:      nonce,
		Ciphertext: ciphertext,
	}, nil
}

// Open unwraps the record's data key and decrypts the ciphertext.
func (e *Envelope) Open(record domain.EncryptedSecret) ([]byte, error) {
	if record.KeyID != e.keyID {
		return nil, ErrUnknownKeyID
	}

	gcm, err := newGCM(e.master)
	if err != nil {
		return nil, err
	}
	if len(record.WrappedKey) <= gcm.NonceSize() {
		return nil, ErrIntegrity
	}

	wrapNonce := record.WrappedKey[:gcm.NonceSize()]
	dataKey, err := gcm.Open(nil, wrapNonce, record.WrappedKey[gcm.NonceSize():], nil)
	if err != nil {
		return nil, ErrIntegrity
	}

	dataGCM, err := newGCM(dataKey)
	if err != nil {
		return nil, err
	}
	plaintext, err := dataGCM.Open(nil, record.Nonce, record.Ciphertext, nil)
	if err != nil {
		return nil, ErrIntegrity
	}

	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return gcm, nil
}

func gcmSeal(key, plaintext []byte) (nonce, ciphertext []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}

	return nonce, gcm.Seal(nil, nonce, plaintext, nil), nil
}
