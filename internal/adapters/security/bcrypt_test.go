package security

import (
	"errors"
	"testing"

	"github.com/DekuWorks/241RunnersAwareness-sub002/internal/domain"
)

func TestBcryptHashAndCompare(t *testing.T) {
	t.Parallel()
	hasher := NewBcryptHasher(4)
	hash, err := hasher.Hash("Secr3t!Pass")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if hash == "Secr3t!Pass" {
		t.Fatalf("hash equals plaintext")
	}
	if err := hasher.Compare(hash, "Secr3t!Pass"); err != nil {
		t.Fatalf("Compare matching password: %v", err)
	}
	if err := hasher.Compare(hash, "WrongPass1"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("Compare wrong password err = %v, want ErrInvalidCredentials", err)
	}
}
