package authpw

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"harborview/api/internal/store"
	"golang.org/x/crypto/bcrypt"
)

type fakeUserStore struct {
	users  map[string]store.User // keyed by email
	resets map[string]string     // token -> userID

	createUserFn func(context.Context, store.User) error
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		users:  make(map[string]store.User),
		resets: make(map[string]string),
	}
}

func (f *fakeUserStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	user, ok := f.users[email]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeUserStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	for _, user := range f.users {
		if user.ID == id {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeUserStore) CreateUser(ctx context.Context, user store.User) error {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, user)
	}
	f.users[user.Email] = user
	return nil
}

func (f *fakeUserStore) UpdateUserVerificationToken(_ context.Context, userID, token string, _ time.Time) error {
	for email, user := range f.users {
		if user.ID == userID {
			user.VerificationToken = token
			f.users[email] = user
		}
	}
	return nil
}

func (f *fakeUserStore) VerifyUserEmail(_ context.Context, token string) error {
	for email, user := range f.users {
		if user.VerificationToken == token {
			user.IsEmailVerified = true
			user.VerificationToken = ""
			f.users[email] = user
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeUserStore) UpdateUserPassword(_ context.Context, userID, passwordHash string) error {
	for email, user := range f.users {
		if user.ID == userID {
			user.PasswordHash = passwordHash
			f.users[email] = user
		}
	}
	return nil
}

func (f *fakeUserStore) CreatePasswordReset(_ context.Context, userID, token string, _ time.Time) error {
	f.resets[token] = userID
	return nil
}

func (f *fakeUserStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	userID, ok := f.resets[token]
	if !ok {
		return "", sql.ErrNoRows
	}
	return userID, nil
}

func (f *fakeUserStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	delete(f.resets, token)
	return nil
}

func TestSignUpAndSignInFlow(t *testing.T) {
	fs := newFakeUserStore()
	svc := NewService(fs)
	ctx := context.Background()

	resp, err := svc.SignUp(ctx, SignUpRequest{
		Email:       "Quinn@Example.com",
		Password:    "correct-horse",
		DisplayName: "Quinn",
	})
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if !resp.RequiresEmailVerify || resp.VerificationToken == "" {
		t.Fatalf("expected verification requirement, got %+v", resp)
	}

	user, ok := fs.users["quinn@example.com"]
	if !ok {
		t.Fatalf("expected email to be lower-cased on storage")
	}
	if user.Role != "customer" {
		t.Fatalf("new accounts must default to the customer role, got %q", user.Role)
	}

	// Sign-in is blocked until verification.
	if _, err := svc.SignIn(ctx, SignInRequest{Email: "quinn@example.com", Password: "correct-horse"}); !errors.Is(err, ErrEmailNotVerified) {
		t.Fatalf("expected ErrEmailNotVerified, got %v", err)
	}

	if err := svc.VerifyEmail(ctx, resp.VerificationToken); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}

	signedIn, err := svc.SignIn(ctx, SignInRequest{Email: "quinn@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("SignIn after verify: %v", err)
	}
	if signedIn.ID != resp.UserID {
		t.Fatalf("expected user %q, got %q", resp.UserID, signedIn.ID)
	}
}

func TestSignUpRejectsDuplicateEmail(t *testing.T) {
	fs := newFakeUserStore()
	fs.users["quinn@example.com"] = store.User{ID: "usr_1", Email: "quinn@example.com"}
	svc := NewService(fs)

	_, err := svc.SignUp(context.Background(), SignUpRequest{
		Email:       "quinn@example.com",
		Password:    "correct-horse",
		DisplayName: "Quinn",
	})
	if !errors.Is(err, ErrEmailExists) {
		t.Fatalf("expected ErrEmailExists, got %v", err)
	}
}

func TestSignInRejectsBadPassword(t *testing.T) {
	fs := newFakeUserStore()
	hash, _ := bcrypt.GenerateFromPassword([]byte("right-password"), bcrypt.MinCost)
	fs.users["quinn@example.com"] = store.User{
		ID:              "usr_1",
		Email:           "quinn@example.com",
		PasswordHash:    string(hash),
		IsEmailVerified: true,
	}
	svc := NewService(fs)

	if _, err := svc.SignIn(context.Background(), SignInRequest{Email: "quinn@example.com", Password: "wrong"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.SignIn(context.Background(), SignInRequest{Email: "nobody@example.com", Password: "wrong"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email must return the same error, got %v", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	fs := newFakeUserStore()
	hash, _ := bcrypt.GenerateFromPassword([]byte("old-password"), bcrypt.MinCost)
	fs.users["quinn@example.com"] = store.User{
		ID:              "usr_1",
		Email:           "quinn@example.com",
		PasswordHash:    string(hash),
		IsEmailVerified: true,
	}
	svc := NewService(fs)
	ctx := context.Background()

	token, err := svc.RequestPasswordReset(ctx, "quinn@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	if token == "" {
		t.Fatalf("expected a reset token for a known email")
	}

	// Unknown email yields no token and no error.
	silent, err := svc.RequestPasswordReset(ctx, "nobody@example.com")
	if err != nil || silent != "" {
		t.Fatalf("unknown email must be silent, got token=%q err=%v", silent, err)
	}

	if err := svc.ResetPassword(ctx, token, "brand-new-password"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if _, err := svc.SignIn(ctx, SignInRequest{Email: "quinn@example.com", Password: "brand-new-password"}); err != nil {
		t.Fatalf("SignIn with new password: %v", err)
	}
	if err := svc.ResetPassword(ctx, token, "another-password"); !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("reset token must be single-use, got %v", err)
	}
}
