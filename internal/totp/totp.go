// Package totp wraps time-based one-time-password generation and the
// backup-code scheme used as its fallback channel.
package totp

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// BackupCodeCount is how many single-use codes accompany a new secret.
	BackupCodeCount = 10
	backupCodeLen   = 8
	backupAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Engine issues and checks TOTP material for one issuer.
type Engine struct {
	issuer string
}

func NewEngine(issuer string) *Engine {
	return &Engine{issuer: issuer}
}

// GenerateSecret mints a fresh shared secret for the account and returns it
// together with the otpauth:// provisioning URI that authenticator apps scan.
func (e *Engine) GenerateSecret(accountEmail string) (secret, provisionURI string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.issuer,
		AccountName: accountEmail,
		Period:      30,
		SecretSize:  32,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", "", fmt.Errorf("generate totp secret: %w", err)
	}
	return key.Secret(), key.URL(), nil
}

// Validate reports whether code matches the secret in the current window or
// one adjacent step either side. Malformed input is simply false.
func (e *Engine) Validate(secret, code string) bool {
	code = strings.TrimSpace(code)
	if len(code) != 6 {
		return false
	}
	return totp.Validate(code, secret)
}

// GenerateBackupCodes returns plaintext codes for one-time display plus the
// serialized hash list for storage. Plaintext is never persisted.
func GenerateBackupCodes(n int) (plain []string, serialized string, err error) {
	plain = make([]string, 0, n)
	hashes := make([]string, 0, n)
	for i := 0; i < n; i++ {
		code, err := randomBackupCode()
		if err != nil {
			return nil, "", err
		}
		plain = append(plain, code)
		hashes = append(hashes, hashBackupCode(code))
	}
	raw, err := json.Marshal(hashes)
	if err != nil {
		return nil, "", fmt.Errorf("serialize backup codes: %w", err)
	}
	return plain, string(raw), nil
}

// ValidateBackupCode reports whether code appears in the serialized hash list.
func ValidateBackupCode(serialized, code string) bool {
	hashes, err := parseBackupCodes(serialized)
	if err != nil {
		return false
	}
	want := []byte(hashBackupCode(normalizeBackupCode(code)))
	for _, h := range hashes {
		if subtle.ConstantTimeCompare([]byte(h), want) == 1 {
			return true
		}
	}
	return false
}

// RemoveUsedBackupCode returns the list with code removed. The second result
// is false when the code was not present, in which case the input list is
// returned unchanged.
func RemoveUsedBackupCode(serialized, code string) (string, bool) {
	hashes, err := parseBackupCodes(serialized)
	if err != nil {
		return serialized, false
	}
	want := hashBackupCode(normalizeBackupCode(code))
	kept := make([]string, 0, len(hashes))
	removed := false
	for _, h := range hashes {
		if !removed && h == want {
			removed = true
			continue
		}
		kept = append(kept, h)
	}
	if !removed {
		return serialized, false
	}
	raw, err := json.Marshal(kept)
	if err != nil {
		return serialized, false
	}
	return string(raw), true
}

// RemainingBackupCodes reports how many unused codes the list still holds.
func RemainingBackupCodes(serialized string) int {
	hashes, err := parseBackupCodes(serialized)
	if err != nil {
		return 0
	}
	return len(hashes)
}

func parseBackupCodes(serialized string) ([]string, error) {
	if serialized == "" {
		return nil, nil
	}
	var hashes []string
	if err := json.Unmarshal([]byte(serialized), &hashes); err != nil {
		return nil, err
	}
	return hashes, nil
}

func normalizeBackupCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func hashBackupCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

func randomBackupCode() (string, error) {
	// 252 is the largest multiple of len(backupAlphabet) below 256; bytes
	// at or above it are discarded to keep the draw uniform.
	const cutoff = 252
	out := make([]byte, 0, backupCodeLen)
	buf := make([]byte, 2*backupCodeLen)
	for len(out) < backupCodeLen {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		for _, b := range buf {
			if b >= cutoff {
				continue
			}
			out = append(out, backupAlphabet[int(b)%len(backupAlphabet)])
			if len(out) == backupCodeLen {
				break
			}
		}
	}
	return string(out), nil
}
