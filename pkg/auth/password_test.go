package auth

import (
	"errors"
	"testing"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("Sup3rSecret")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if hash == "Sup3rSecret" {
		t.Fatal("hash must not equal the plaintext password")
	}
	if !CheckPassword("Sup3rSecret", hash) {
		t.Fatal("correct password should verify")
	}
	if CheckPassword("wrong-password", hash) {
		t.Fatal("wrong password should not verify")
	}
}

func TestHashPasswordSalts(t *testing.T) {
	h1, err := HashPassword("Sup3rSecret")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	h2, err := HashPassword("Sup3rSecret")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if h1 == h2 {
		t.Fatal("two hashes of the same password should differ")
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		password string
		want     error
	}{
		{"Valid1Password", nil},
		{"short1A", ErrPasswordTooShort},
		{"alllower1", ErrPasswordNoUpper},
		{"ALLUPPER1", ErrPasswordNoLower},
		{"NoDigitsHere", ErrPasswordNoDigit},
	}
	for _, tc := range tests {
		if got := ValidatePassword(tc.password); !errors.Is(got, tc.want) {
			t.Fatalf("ValidatePassword(%q) = %v, want %v", tc.password, got, tc.want)
		}
	}
}
