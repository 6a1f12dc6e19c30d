package credential

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/Utkarshchaudhary009/Docverse/internal/auth"
)

const (
	secretBodyLen = 32
	displayLen    = 10
)

// Secret is a freshly generated credential. Raw is shown to the owner once and never stored.
type Secret struct {
	Raw    string
	Hash   string
	Prefix string
}

// NewSecret returns prefix followed by 32 base62 characters drawn from crypto/rand.
func NewSecret(prefix string) (Secret, error) {
	body, err := base62(secretBodyLen)
	if err != nil {
		return Secret{}, err
	}
	raw := prefix + body
	display := raw
	if len(display) > displayLen {
		display = display[:displayLen]
	}
	return Secret{Raw: raw, Hash: auth.Digest(raw), Prefix: display}, nil
}

func base62(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("invalid secret length")
	}

	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	const charsetLen = byte(len(charset))
	const maxMultiple = 256 / int(charsetLen) * int(charsetLen)

	out := make([]byte, length)
	buf := make([]byte, length)
	for i := 0; i < length; {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		// bytes past the last full multiple of 62 would bias the low characters
		for _, b := range buf {
			if int(b) >= maxMultiple {
				continue
			}
			out[i] = charset[b%charsetLen]
			i++
			if i == length {
				break
			}
		}
	}
	return string(out), nil
}
