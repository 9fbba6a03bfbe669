package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
)

// Padding selects the RSA encryption scheme. The zero value is PKCS#1 v1.5.
type Padding uint8

const (
	PaddingPKCS1v15 Padding = iota
	PaddingOAEP             // OAEP with SHA-256 and an empty label
)

func (p Padding) String() string {
	switch p {
	case PaddingPKCS1v15:
		return "pkcs1v15"
	case PaddingOAEP:
		return "oaep-sha256"
	default:
		return fmt.Sprintf("padding(%d)", uint8(p))
	}
}

// ParsePadding accepts the names produced by String.
func ParsePadding(s string) (Padding, error) {
	switch s {
	case "pkcs1v15", "":
		return PaddingPKCS1v15, nil
	case "oaep-sha256":
		return PaddingOAEP, nil
	default:
		return 0, fmt.Errorf("auth: unknown padding %q", s)
	}
}

// Valid reports whether p names a supported scheme. Values arrive from the
// wire, so they are checked before use.
func (p Padding) Valid() bool {
	return p == PaddingPKCS1v15 || p == PaddingOAEP
}

func (p Padding) overhead() int {
	if p == PaddingOAEP {
		return 2*sha256.Size + 2
	}
	return 11
}

// MaxMessageSize is the largest plaintext pub can carry under p.
func MaxMessageSize(pub *rsa.PublicKey, p Padding) int {
	return pub.Size() - p.overhead()
}

// Encrypt 为持有对应私钥的一方加密短密文。超过 MaxMessageSize 的消息
// 直接失败，不截断也不分段。
func Encrypt(message []byte, pub *rsa.PublicKey, p Padding) ([]byte, error) {
	if pub == nil {
		return nil, fmt.Errorf("%w: nil public key", ErrEncrypt)
	}
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrEncrypt, p)
	}
	if limit := MaxMessageSize(pub, p); len(message) > limit {
		return nil, fmt.Errorf("%w: message is %d bytes, key allows %d", ErrEncrypt, len(message), limit)
	}
	var (
		out []byte
		err error
	)
	if p == PaddingOAEP {
		out, err = rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, message, nil)
	} else {
		out, err = rsa.EncryptPKCS1v15(rand.Reader, pub, message)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncrypt, err)
	}
	return out, nil
}

// Decrypt 解开 Encrypt 产生的密文。密钥错误或输入损坏都返回 ErrDecrypt。
func Decrypt(ciphertext []byte, priv *rsa.PrivateKey, p Padding) ([]byte, error) {
	if priv == nil {
		return nil, fmt.Errorf("%w: nil private key", ErrDecrypt)
	}
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrDecrypt, p)
	}
	var (
		out []byte
		err error
	)
	if p == PaddingOAEP {
		out, err = rsa.DecryptOAEP(sha256.New(), nil, priv, ciphertext, nil)
	} else {
		out, err = rsa.DecryptPKCS1v15(nil, priv, ciphertext)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecrypt, err)
	}
	return out, nil
}
