package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"math/big"
	"runtime"
)

const (
	MinKeyBits     = 1024
	MaxKeyBits     = 4096
	DefaultKeyBits = 2048
)

// EphemeralKeyPair 是只属于一次握手的 RSA 密钥对。每条退出路径都要调用
// Destroy，销毁后的密钥对拒绝解密。
type EphemeralKeyPair struct {
	priv *rsa.PrivateKey
}

// GenerateKeyPair 生成指定模长的新密钥对
func GenerateKeyPair(bits int) (*EphemeralKeyPair, error) {
	if bits < MinKeyBits || bits > MaxKeyBits {
		return nil, fmt.Errorf("%w: key size %d outside [%d, %d]", ErrKeyGeneration, bits, MinKeyBits, MaxKeyBits)
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyGeneration, err)
	}
	return &EphemeralKeyPair{priv: priv}, nil
}

// PublicKey returns nil once the pair is destroyed.
func (k *EphemeralKeyPair) PublicKey() *rsa.PublicKey {
	if k.priv == nil {
		return nil
	}
	return &k.priv.PublicKey
}

// ExportPublicKey encodes the public half for the wire.
func (k *EphemeralKeyPair) ExportPublicKey() ([]byte, error) {
	return ExportPublicKey(k.PublicKey())
}

func (k *EphemeralKeyPair) Decrypt(ciphertext []byte, p Padding) ([]byte, error) {
	if k.priv == nil {
		return nil, fmt.Errorf("%w: key pair destroyed", ErrDecrypt)
	}
	return Decrypt(ciphertext, k.priv, p)
}

// Destroy 覆写私钥指数、素数与 CRT 参数，可以重复调用
func (k *EphemeralKeyPair) Destroy() {
	if k == nil || k.priv == nil {
		return
	}
	priv := k.priv
	k.priv = nil
	wipeInt(priv.D)
	for _, p := range priv.Primes {
		wipeInt(p)
	}
	wipeInt(priv.Precomputed.Dp)
	wipeInt(priv.Precomputed.Dq)
	wipeInt(priv.Precomputed.Qinv)
	runtime.KeepAlive(priv)
}

func wipeInt(x *big.Int) {
	if x == nil {
		return
	}
	words := x.Bits()
	for i := range words {
		words[i] = 0
	}
	x.SetInt64(0)
}

// ExportPublicKey encodes pub as DER SubjectPublicKeyInfo.
func ExportPublicKey(pub *rsa.PublicKey) ([]byte, error) {
	if pub == nil {
		return nil, fmt.Errorf("%w: nil public key", ErrKeyImport)
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyImport, err)
	}
	return der, nil
}

// ImportPublicKey 解析对端发来的 DER SubjectPublicKeyInfo。
// 非 RSA 或小于 MinKeyBits 的密钥一律拒绝。
func ImportPublicKey(der []byte) (*rsa.PublicKey, error) {
	if len(der) == 0 {
		return nil, fmt.Errorf("%w: empty key", ErrKeyImport)
	}
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyImport, err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported key type %T", ErrKeyImport, parsed)
	}
	if pub.N.BitLen() < MinKeyBits {
		return nil, fmt.Errorf("%w: %d-bit modulus is too small", ErrKeyImport, pub.N.BitLen())
	}
	return pub, nil
}
