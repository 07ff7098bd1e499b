package utils

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

var (
	ErrWeakEncryptionKey   = errors.New("encryption key must be at least 32 characters")
	ErrMalformedCiphertext = errors.New("malformed ciphertext")
)

const encryptionKeyLength = 32

// SecretCipher encrypts 2FA secrets at rest with AES-256-CBC. Each ciphertext
// is base64(iv || body) with a fresh random IV.
type SecretCipher struct {
	key []byte
}

func NewSecretCipher(passphrase, salt string) (*SecretCipher, error) {
	if len(passphrase) < encryptionKeyLength {
		return nil, ErrWeakEncryptionKey
	}
	key, err := scrypt.Key([]byte(passphrase), []byte(salt), 1<<14, 8, 1, encryptionKeyLength)
	if err != nil {
		return nil, fmt.Errorf("derive encryption key: %w", err)
	}
	return &SecretCipher{key: key}, nil
}

func (c *SecretCipher) Encrypt(plain string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}

	padded := pkcs7Pad([]byte(plain), aes.BlockSize)
	out := make([]byte, aes.BlockSize+len(padded))
	iv := out[:aes.BlockSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)
	return base64.StdEncoding.EncodeToString(out), nil
}

func (c *SecretCipher) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}
	if len(raw) < 2*aes.BlockSize || len(raw)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: length %d", ErrMalformedCiphertext, len(raw))
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}

	iv, body := raw[:aes.BlockSize], raw[aes.BlockSize:]
	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, body)

	unpadded, err := pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(unpadded), nil
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, ErrMalformedCiphertext
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size {
		return nil, ErrMalformedCiphertext
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, ErrMalformedCiphertext
		}
	}
	return b[:len(b)-n], nil
}
