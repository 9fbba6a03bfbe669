package auth

import (
	"crypto/rsa"
	"fmt"

	"github.com/awnumar/memguard"
)

// Credential holds a caller-supplied secret in locked memory. It is
// consumed by exactly one encryption and destroyed afterwards, whether or
// not the encryption succeeded.
type Credential struct {
	buf       *memguard.LockedBuffer
	used      bool
	destroyed bool
}

// NewCredential copies secret into guarded memory. The caller's string
// cannot be wiped; prefer NewCredentialBytes when the secret is a []byte.
func NewCredential(secret string) *Credential {
	return NewCredentialBytes([]byte(secret))
}

// NewCredentialBytes moves secret into guarded memory and zeroes the
// source slice.
func NewCredentialBytes(secret []byte) *Credential {
	return &Credential{buf: memguard.NewBufferFromBytes(secret)}
}

// Len is the length of the secret in bytes, or 0 after Destroy.
func (c *Credential) Len() int {
	if c == nil || c.buf == nil || !c.buf.IsAlive() {
		return 0
	}
	return c.buf.Size()
}

// Consumed reports whether the secret was already handed to an encryption.
func (c *Credential) Consumed() bool {
	return c == nil || c.used
}

// Destroy wipes the secret. Safe to call more than once.
func (c *Credential) Destroy() {
	if c == nil || c.buf == nil {
		return
	}
	c.destroyed = true
	c.buf.Destroy()
}

// seal encrypts the secret for pub and destroys it.
func (c *Credential) seal(pub *rsa.PublicKey, p Padding) ([]byte, error) {
	if c == nil || c.buf == nil || c.used {
		return nil, fmt.Errorf("%w: credential already consumed", ErrEncrypt)
	}
	// 空密码的缓冲区同样不是 alive，只能靠 destroyed 区分
	if c.destroyed {
		return nil, fmt.Errorf("%w: credential destroyed", ErrEncrypt)
	}
	c.used = true
	defer c.Destroy()
	var secret []byte
	if c.buf.IsAlive() {
		secret = c.buf.Bytes()
	}
	return Encrypt(secret, pub, p)
}
