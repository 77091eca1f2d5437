package cryptox

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/twofish"
)

// ErrPadding is returned when CBC plaintext does not end in valid PKCS#7
// padding, which is what a wrong key or a damaged last block looks like.
var ErrPadding = errors.New("cryptox: invalid padding")

// PayloadCipher encrypts and decrypts a whole payload in one call.
type PayloadCipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
	// Peek returns the first n plaintext bytes without checking padding,
	// so a known-plaintext prefix can be verified before the full decrypt.
	Peek(ciphertext []byte, n int) ([]byte, error)
}

type cbcCipher struct {
	block cipher.Block
	iv    []byte
}

// NewAESCBC returns AES-256-CBC with PKCS#7 padding.
func NewAESCBC(key, iv []byte) (PayloadCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return newCBC(block, iv)
}

// NewTwofishCBC returns Twofish-CBC with PKCS#7 padding.
func NewTwofishCBC(key, iv []byte) (PayloadCipher, error) {
	block, err := twofish.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return newCBC(block, iv)
}

func newCBC(block cipher.Block, iv []byte) (PayloadCipher, error) {
	if len(iv) != block.BlockSize() {
		return nil, fmt.Errorf("cryptox: iv must be %d bytes, got %d", block.BlockSize(), len(iv))
	}
	return &cbcCipher{block: block, iv: bytes.Clone(iv)}, nil
}

func (c *cbcCipher) Encrypt(plaintext []byte) ([]byte, error) {
	padded := pkcs7Pad(plaintext, c.block.BlockSize())
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.block, c.iv).CryptBlocks(out, padded)
	return out, nil
}

func (c *cbcCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	bs := c.block.BlockSize()
	if len(ciphertext) == 0 || len(ciphertext)%bs != 0 {
		return nil, fmt.Errorf("cryptox: ciphertext length %d is not a multiple of %d", len(ciphertext), bs)
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(c.block, c.iv).CryptBlocks(out, ciphertext)
	return pkcs7Unpad(out, bs)
}

func (c *cbcCipher) Peek(ciphertext []byte, n int) ([]byte, error) {
	bs := c.block.BlockSize()
	blocks := (n + bs - 1) / bs * bs
	if n < 0 || len(ciphertext) < blocks {
		return nil, fmt.Errorf("cryptox: ciphertext shorter than %d bytes", n)
	}
	out := make([]byte, blocks)
	cipher.NewCBCDecrypter(c.block, c.iv).CryptBlocks(out, ciphertext[:blocks])
	return out[:n], nil
}

func pkcs7Pad(b []byte, bs int) []byte {
	n := bs - len(b)%bs
	out := make([]byte, len(b), len(b)+n)
	copy(out, b)
	return append(out, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, bs int) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > bs || n > len(b) {
		return nil, ErrPadding
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, ErrPadding
		}
	}
	return b[:len(b)-n], nil
}

type chachaCipher struct {
	key, nonce []byte
}

// NewChaCha20 returns the unauthenticated ChaCha20 payload cipher of KDBX4.
// Authentication comes from the HMAC block stream around it.
func NewChaCha20(key, nonce []byte) (PayloadCipher, error) {
	if len(key) != chacha20.KeySize {
		return nil, fmt.Errorf("cryptox: chacha20 key must be %d bytes", chacha20.KeySize)
	}
	if len(nonce) != chacha20.NonceSize {
		return nil, fmt.Errorf("cryptox: chacha20 nonce must be %d bytes", chacha20.NonceSize)
	}
	return &chachaCipher{key: bytes.Clone(key), nonce: bytes.Clone(nonce)}, nil
}

func (c *chachaCipher) xor(in []byte) ([]byte, error) {
	s, err := chacha20.NewUnauthenticatedCipher(c.key, c.nonce)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(in))
	s.XORKeyStream(out, in)
	return out, nil
}

func (c *chachaCipher) Peek(ciphertext []byte, n int) ([]byte, error) {
	if n < 0 || len(ciphertext) < n {
		return nil, fmt.Errorf("cryptox: ciphertext shorter than %d bytes", n)
	}
	return c.xor(ciphertext[:n])
}

func (c *chachaCipher) Encrypt(plaintext []byte) ([]byte, error)  { return c.xor(plaintext) }
func (c *chachaCipher) Decrypt(ciphertext []byte) ([]byte, error) { return c.xor(ciphertext) }
