package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/velorapos/backend/internal/repository"
)

type verifyFixture struct {
	service   *VerificationService
	users     *MockUserRepository
	tokenRepo *MockTokenRepository
	auditor   *MockRecorder
}

func newVerifyFixture() *verifyFixture {
	users := NewMockUserRepository()
	tokenRepo := NewMockTokenRepository()
	auditor := NewMockRecorder()

	service := NewVerificationService(users, tokenRepo, auditor, 7*24*time.Hour, nil)

	return &verifyFixture{
		service:   service,
		users:     users,
		tokenRepo: tokenRepo,
		auditor:   auditor,
	}
}

func (f *verifyFixture) seedUser(email string) *repository.User {
	user := &repository.User{
		ID:       uuid.New(),
		Email:    email,
		Username: "verifyuser",
		Role:     repository.RoleCashier,
		IsActive: true,
	}
	f.users.AddUser(user)
	return user
}

func TestVerificationFlow(t *testing.T) {
	f := newVerifyFixture()
	user := f.seedUser("cashier@store.example")

	token, err := f.service.RequestVerification(context.Background(), user.ID.String())
	if err != nil {
		t.Fatalf("RequestVerification() error = %v", err)
	}
	if token == "" {
		t.Fatal("empty token")
	}

	if err := f.service.Consume(context.Background(), token, DeviceInfo{IPAddress: "10.0.0.1"}); err != nil {
		t.Fatalf("Consume() error = %v", err)
	}

	if !f.users.Get(user.ID).EmailVerified {
		t.Error("email not marked verified")
	}
	if f.auditor.Count(repository.ActionEmailVerified) != 1 {
		t.Errorf("EMAIL_VERIFIED audit count = %d, want 1", f.auditor.Count(repository.ActionEmailVerified))
	}
}

func TestVerificationReplay(t *testing.T) {
	f := newVerifyFixture()
	user := f.seedUser("cashier@store.example")

	token, err := f.service.RequestVerification(context.Background(), user.ID.String())
	if err != nil {
		t.Fatal(err)
	}

	if err := f.service.Consume(context.Background(), token, DeviceInfo{}); err != nil {
		t.Fatal(err)
	}

	if err := f.service.Consume(context.Background(), token, DeviceInfo{}); !errors.Is(err, ErrTokenAlreadyUsed) {
		t.Errorf("replay: error = %v, want ErrTokenAlreadyUsed", err)
	}
}

func TestVerificationExpired(t *testing.T) {
	f := newVerifyFixture()
	user := f.seedUser("cashier@store.example")

	token, err := f.service.RequestVerification(context.Background(), user.ID.String())
	if err != nil {
		t.Fatal(err)
	}
	f.tokenRepo.ExpireVerificationToken(token)

	if err := f.service.Consume(context.Background(), token, DeviceInfo{}); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("error = %v, want ErrTokenExpired", err)
	}
	if f.users.Get(user.ID).EmailVerified {
		t.Error("expired token verified the email")
	}
}

func TestVerificationUnknownToken(t *testing.T) {
	f := newVerifyFixture()

	if err := f.service.Consume(context.Background(), "deadbeef", DeviceInfo{}); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("error = %v, want ErrTokenInvalid", err)
	}
}

func TestVerificationStaleEmail(t *testing.T) {
	f := newVerifyFixture()
	user := f.seedUser("old@store.example")

	token, err := f.service.RequestVerification(context.Background(), user.ID.String())
	if err != nil {
		t.Fatal(err)
	}

	// Email changed after the token was issued.
	stored := f.users.Get(user.ID)
	stored.Email = "new@store.example"
	f.users.AddUser(stored)

	if err := f.service.Consume(context.Background(), token, DeviceInfo{}); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("stale email: error = %v, want ErrTokenInvalid", err)
	}
	if f.users.Get(user.ID).EmailVerified {
		t.Error("stale token verified the new email")
	}
}

func TestVerificationMultipleOutstanding(t *testing.T) {
	f := newVerifyFixture()
	user := f.seedUser("cashier@store.example")

	first, err := f.service.RequestVerification(context.Background(), user.ID.String())
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.service.RequestVerification(context.Background(), user.ID.String())
	if err != nil {
		t.Fatal(err)
	}

	// Unlike reset tokens, an older verification link still works as long as
	// the email has not changed.
	if err := f.service.Consume(context.Background(), first, DeviceInfo{}); err != nil {
		t.Errorf("older token: error = %v", err)
	}
	if err := f.service.Consume(context.Background(), second, DeviceInfo{}); err != nil {
		t.Errorf("newer token: error = %v", err)
	}
}
