package models

import "testing"

func TestCreateUserHashesPassword(t *testing.T) {
	u, err := CreateUser("alice", "alice@example.com", "s3cretpw")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if u.Password == "s3cretpw" {
		t.Fatal("password stored in clear")
	}
	if !CheckPasswordHash("s3cretpw", u.Password) {
		t.Fatal("stored hash does not verify the password")
	}
	if CheckPasswordHash("wrong-password", u.Password) {
		t.Fatal("wrong password verified")
	}
	if u.Role != ROLE_USER || u.Status != STATUS_ACTIVE {
		t.Fatalf("defaults: role=%s status=%s", u.Role, u.Status)
	}
}

func TestCreateUserIssuesReferralCode(t *testing.T) {
	first, err := CreateUser("alice", "alice@example.com", "s3cretpw")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if len(first.ReferralCode) != 16 {
		t.Fatalf("referral code: %q", first.ReferralCode)
	}
	second, err := CreateUser("bob", "bob@example.com", "s3cretpw")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if first.ReferralCode == second.ReferralCode {
		t.Fatal("referral codes collide")
	}
}

func TestCreateUserValidation(t *testing.T) {
	if _, err := CreateUser("al", "alice@example.com", "s3cretpw"); err == nil {
		t.Fatal("too-short name accepted")
	}
	if _, err := CreateUser("alice", "not-an-email", "s3cretpw"); err == nil {
		t.Fatal("invalid email accepted")
	}
}
