// Password hashing.
//
// bcrypt is an adaptive hash: slow on purpose, with the work factor ("cost")
// encoded in its output next to a random per-call salt. One string therefore
// carries everything Verify needs:
//
//	$2a$12$<22-char salt><31-char hash>
//	 ^   ^
//	 |   cost (12 rounds → 2^12 iterations)
//	 version
//
// The minimum password length is a registration rule and lives in the service
// layer. This file only knows about hashing.

package auth

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt work factor used in production.
//
// COST TUNING RULE OF THUMB:
// Set cost so that hashing takes ~200–300ms on your production hardware.
const DefaultCost = 12

// MaxPasswordBytes is bcrypt's input limit. Longer inputs are rejected by
// Hash instead of being silently truncated.
const MaxPasswordBytes = 72

// ErrPasswordTooLong is returned by Hash for inputs over MaxPasswordBytes.
var ErrPasswordTooLong = errors.New("auth: password must be 72 bytes or fewer")

// dummyPassword is hashed once per PasswordService and compared against when
// a login names an unknown email, so both failure paths cost one bcrypt run.
const dummyPassword = "dummy-password-for-timing-equalisation"

// PasswordService provides bcrypt hashing and verification.
//
// It's a struct (not free functions) so that the cost can be injected
// in tests: cost 4 makes tests run in milliseconds.
type PasswordService struct {
	cost int

	dummyOnce sync.Once
	dummyHash []byte
}

// NewPasswordService creates a PasswordService with DefaultCost.
func NewPasswordService() *PasswordService {
	return &PasswordService{cost: DefaultCost}
}

// NewPasswordServiceWithCost creates a PasswordService with a custom cost.
// Tests use bcrypt.MinCost (4); configuration may raise it above DefaultCost.
func NewPasswordServiceWithCost(cost int) (*PasswordService, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("auth: bcrypt cost must be between %d and %d, got %d",
			bcrypt.MinCost, bcrypt.MaxCost, cost)
	}
	return &PasswordService{cost: cost}, nil
}

// Cost reports the work factor new hashes are created with.
func (p *PasswordService) Cost() int {
	return p.cost
}

// Hash hashes the given plaintext password with bcrypt.
//
// Two calls with the same input return different strings (fresh salt).
// Store the result directly; it contains the salt and cost.
//
// Errors: ErrPasswordTooLong, or a wrapped failure of the entropy source.
// The latter is not retryable.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}

	return string(hashed), nil
}

// Verify reports whether plaintext matches the stored bcrypt record.
//
// bcrypt.CompareHashAndPassword compares digests in constant time.
// A malformed record (wrong prefix, bad cost, truncated) yields false.
// Authentication fails closed, it never errors.
func (p *PasswordService) Verify(plaintext, hashRecord string) bool {
	if hashRecord == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hashRecord), []byte(plaintext)) == nil
}

// CompareDummy runs one bcrypt comparison against a throwaway hash and
// discards the result. The service calls it when a login email is unknown so
// that path takes as long as a wrong-password comparison.
func (p *PasswordService) CompareDummy(plaintext string) {
	p.dummyOnce.Do(func() {
		// Cannot fail: dummyPassword is short and the cost was validated.
		p.dummyHash, _ = bcrypt.GenerateFromPassword([]byte(dummyPassword), p.cost)
	})
	_ = bcrypt.CompareHashAndPassword(p.dummyHash, []byte(plaintext))
}
