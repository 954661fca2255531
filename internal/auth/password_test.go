package auth

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

// newTestPasswordService returns a PasswordService with bcrypt cost 4,
// the library minimum, so each hash takes milliseconds.
func newTestPasswordService(t *testing.T) *PasswordService {
	t.Helper()
	ps, err := NewPasswordServiceWithCost(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewPasswordServiceWithCost: %v", err)
	}
	return ps
}

// =========================================================================
// CONSTRUCTION TESTS
// =========================================================================

func TestNewPasswordService_DefaultCost(t *testing.T) {
	if got := NewPasswordService().Cost(); got != DefaultCost {
		t.Errorf("Cost() = %d, want %d", got, DefaultCost)
	}
}

func TestNewPasswordServiceWithCost_RejectsOutOfRange(t *testing.T) {
	for _, cost := range []int{0, bcrypt.MinCost - 1, bcrypt.MaxCost + 1} {
		if _, err := NewPasswordServiceWithCost(cost); err == nil {
			t.Errorf("NewPasswordServiceWithCost(%d) should fail", cost)
		}
	}
}

// =========================================================================
// Hash TESTS
// =========================================================================

func TestHash_OutputLooksBcrypt(t *testing.T) {
	ps := newTestPasswordService(t)

	hash, err := ps.Hash("password123")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	// algorithm identifier, cost, salt and digest in one string
	if !strings.HasPrefix(hash, "$2a$04$") {
		t.Errorf("Hash() does not look like a cost-4 bcrypt hash: %q", hash)
	}
	if len(hash) != 60 {
		t.Errorf("len(Hash()) = %d, want 60", len(hash))
	}
}

func TestHash_SamePasswordProducesDifferentHashes(t *testing.T) {
	ps := newTestPasswordService(t)

	hash1, _ := ps.Hash("same-password")
	hash2, _ := ps.Hash("same-password")

	if hash1 == hash2 {
		t.Error("Hash() produced identical hashes for the same password (salt must be random)")
	}
}

func TestHash_RejectsPasswordOver72Bytes(t *testing.T) {
	ps := newTestPasswordService(t)

	_, err := ps.Hash(strings.Repeat("a", 73))
	if !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("Hash() error = %v, want ErrPasswordTooLong", err)
	}
}

func TestHash_AcceptsPasswordExactly72Bytes(t *testing.T) {
	ps := newTestPasswordService(t)

	if _, err := ps.Hash(strings.Repeat("a", 72)); err != nil {
		t.Fatalf("Hash() should accept a 72-byte password, got error: %v", err)
	}
}

// =========================================================================
// Verify TESTS
// =========================================================================

func TestVerify_WrongPassword(t *testing.T) {
	ps := newTestPasswordService(t)

	hash, _ := ps.Hash("the-real-password")

	if ps.Verify("the-wrong-password", hash) {
		t.Fatal("Verify() = true for a wrong password")
	}
}

func TestVerify_EmptyPassword(t *testing.T) {
	ps := newTestPasswordService(t)

	hash, _ := ps.Hash("some-password")

	if ps.Verify("", hash) {
		t.Fatal("Verify() = true for an empty password")
	}
}

func TestVerify_MalformedRecordFailsClosed(t *testing.T) {
	ps := newTestPasswordService(t)
	valid, _ := ps.Hash("password")

	records := map[string]string{
		"empty":           "",
		"garbage":         "not-a-valid-bcrypt-hash",
		"truncated":       valid[:20],
		"bad cost":        "$2a$99$" + valid[7:],
		"unknown version": "$9z$04$" + valid[7:],
	}

	for name, record := range records {
		t.Run(name, func(t *testing.T) {
			if ps.Verify("password", record) {
				t.Errorf("Verify() = true for malformed record %q", record)
			}
		})
	}
}

func TestVerify_AcceptsRecordsOfOtherCosts(t *testing.T) {
	// The cost is read from the record, not from the service.
	low := newTestPasswordService(t)
	hash, _ := low.Hash("portable")

	other, err := NewPasswordServiceWithCost(5)
	if err != nil {
		t.Fatalf("NewPasswordServiceWithCost: %v", err)
	}
	if !other.Verify("portable", hash) {
		t.Error("Verify() rejected a valid record hashed at a different cost")
	}
}

func TestCompareDummy_DoesNotPanic(t *testing.T) {
	ps := newTestPasswordService(t)
	ps.CompareDummy("anything")
	ps.CompareDummy("anything else")
}

// =========================================================================
// ROUND-TRIP TEST
// =========================================================================

func TestHashVerify_RoundTrip(t *testing.T) {
	ps := newTestPasswordService(t)

	cases := []struct {
		name     string
		password string
	}{
		{"simple alphanumeric", "hello123"},
		{"special characters", "p@$$w0rd!#%"},
		{"unicode", "пароль-密码"},
		{"whitespace", "  leading and trailing  "},
		{"minimum length", "secret"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hash, err := ps.Hash(tc.password)
			if err != nil {
				t.Fatalf("Hash(%q) error = %v", tc.password, err)
			}
			if !ps.Verify(tc.password, hash) {
				t.Errorf("Verify() = false for %q", tc.password)
			}
			if ps.Verify(tc.password+"x", hash) {
				t.Errorf("Verify() = true for a different password than %q", tc.password)
			}
		})
	}
}
