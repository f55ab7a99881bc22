package identity

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"harborview/api/internal/store"
)

type fakeDirectory struct {
	getUserByIDFn func(context.Context, string) (store.User, error)
}

func (f *fakeDirectory) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{}, sql.ErrNoRows
}

type fakeCustomers struct {
	getCustomerFn func(context.Context, string) (store.Customer, error)
}

func (f *fakeCustomers) GetCustomer(ctx context.Context, customerID string) (store.Customer, error) {
	if f.getCustomerFn != nil {
		return f.getCustomerFn(ctx, customerID)
	}
	return store.Customer{}, sql.ErrNoRows
}

type fakeBoats struct {
	listByCustomerFn func(context.Context, string) ([]store.Boat, error)
	listAllFn        func(context.Context) ([]store.Boat, error)
	listForUserFn    func(context.Context, string) ([]store.Boat, error)
}

func (f *fakeBoats) ListBoatsByCustomer(ctx context.Context, customerID string) ([]store.Boat, error) {
	if f.listByCustomerFn != nil {
		return f.listByCustomerFn(ctx, customerID)
	}
	return nil, nil
}

func (f *fakeBoats) ListAllBoats(ctx context.Context) ([]store.Boat, error) {
	if f.listAllFn != nil {
		return f.listAllFn(ctx)
	}
	return nil, nil
}

func (f *fakeBoats) ListBoatsForUser(ctx context.Context, userID string) ([]store.Boat, error) {
	if f.listForUserFn != nil {
		return f.listForUserFn(ctx, userID)
	}
	return nil, nil
}

type memFlags struct {
	flags map[string]string
}

func newMemFlags() *memFlags {
	return &memFlags{flags: make(map[string]string)}
}

func (m *memFlags) SaveImpersonation(_ context.Context, adminUserID, targetCustomerID string, _ time.Duration) error {
	m.flags[adminUserID] = targetCustomerID
	return nil
}

func (m *memFlags) LookupImpersonation(_ context.Context, adminUserID string) (string, error) {
	target, ok := m.flags[adminUserID]
	if !ok {
		return "", ErrNoFlag
	}
	return target, nil
}

func (m *memFlags) ClearImpersonation(_ context.Context, adminUserID string) error {
	delete(m.flags, adminUserID)
	return nil
}

func adminUser(id string) store.User {
	return store.User{ID: id, DisplayName: "Dana", Role: "admin"}
}

func customerUser(id, customerID string) store.User {
	return store.User{ID: id, DisplayName: "Quinn", Role: "customer", CustomerID: &customerID}
}

func TestSetImpersonationRejectsNonAdmin(t *testing.T) {
	flags := newMemFlags()
	directory := &fakeDirectory{
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			if userID == "staff-1" {
				return store.User{ID: userID, DisplayName: "Sam", Role: "staff"}, nil
			}
			return customerUser(userID, "cust-1"), nil
		},
	}
	customers := &fakeCustomers{
		getCustomerFn: func(_ context.Context, customerID string) (store.Customer, error) {
			return store.Customer{ID: customerID, Name: "Other"}, nil
		},
	}
	resolver := NewResolver(directory, customers, &fakeBoats{}, flags, time.Minute)

	err := resolver.SetImpersonation(context.Background(), "user-1", "cust-2")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	// Staff can browse the admin view but must not impersonate either.
	err = resolver.SetImpersonation(context.Background(), "staff-1", "cust-2")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for staff, got %v", err)
	}
	if len(flags.flags) != 0 {
		t.Fatalf("flag state must be untouched after rejected attempt")
	}

	// A subsequent resolve returns the real principal.
	eff, err := resolver.Resolve(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if eff.IsImpersonated {
		t.Fatalf("expected no impersonation")
	}
	if eff.Customer == nil || eff.Customer.ID != "cust-1" {
		t.Fatalf("expected own customer scope, got %+v", eff.Customer)
	}
}

func TestSetImpersonationRejectsMissingTarget(t *testing.T) {
	flags := newMemFlags()
	directory := &fakeDirectory{
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return adminUser(userID), nil
		},
	}
	resolver := NewResolver(directory, &fakeCustomers{}, &fakeBoats{}, flags, time.Minute)

	err := resolver.SetImpersonation(context.Background(), "admin-1", "cust-gone")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(flags.flags) != 0 {
		t.Fatalf("flag state must be untouched")
	}
}

func TestResolveImpersonationHappyPath(t *testing.T) {
	flags := newMemFlags()
	directory := &fakeDirectory{
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return adminUser(userID), nil
		},
	}
	customers := &fakeCustomers{
		getCustomerFn: func(_ context.Context, customerID string) (store.Customer, error) {
			return store.Customer{ID: customerID, Name: "Harbor Customer"}, nil
		},
	}
	resolver := NewResolver(directory, customers, &fakeBoats{}, flags, time.Minute)

	if err := resolver.SetImpersonation(context.Background(), "admin-1", "cust-7"); err != nil {
		t.Fatalf("SetImpersonation: %v", err)
	}

	eff, err := resolver.Resolve(context.Background(), "admin-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !eff.IsImpersonated {
		t.Fatalf("expected impersonated resolution")
	}
	if eff.Customer == nil || eff.Customer.ID != "cust-7" {
		t.Fatalf("expected target customer, got %+v", eff.Customer)
	}
	if eff.Principal.ID != "admin-1" {
		t.Fatalf("principal must remain the admin, got %q", eff.Principal.ID)
	}
}

func TestResolveClearsFlagOnPrivilegeLoss(t *testing.T) {
	flags := newMemFlags()
	role := "admin"
	directory := &fakeDirectory{
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, DisplayName: "Dana", Role: role}, nil
		},
	}
	customers := &fakeCustomers{
		getCustomerFn: func(_ context.Context, customerID string) (store.Customer, error) {
			return store.Customer{ID: customerID}, nil
		},
	}
	resolver := NewResolver(directory, customers, &fakeBoats{}, flags, time.Minute)

	if err := resolver.SetImpersonation(context.Background(), "admin-1", "cust-7"); err != nil {
		t.Fatalf("SetImpersonation: %v", err)
	}

	// Demotion happens between the set call and the next resolve.
	role = "staff"

	eff, err := resolver.Resolve(context.Background(), "admin-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if eff.IsImpersonated {
		t.Fatalf("stale impersonation must not be honored after demotion")
	}
	if eff.Warning != WarningImpersonationRevoked {
		t.Fatalf("expected revoked warning, got %q", eff.Warning)
	}
	if _, err := flags.LookupImpersonation(context.Background(), "admin-1"); !errors.Is(err, ErrNoFlag) {
		t.Fatalf("flag must be cleared on privilege loss")
	}
}

func TestResolveClearsFlagWhenTargetGone(t *testing.T) {
	flags := newMemFlags()
	flags.flags["admin-1"] = "cust-deleted"
	directory := &fakeDirectory{
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return adminUser(userID), nil
		},
	}
	resolver := NewResolver(directory, &fakeCustomers{}, &fakeBoats{}, flags, time.Minute)

	eff, err := resolver.Resolve(context.Background(), "admin-1")
	if err != nil {
		t.Fatalf("Resolve must fall back, not fail: %v", err)
	}
	if eff.IsImpersonated {
		t.Fatalf("expected fallback to real principal")
	}
	if eff.Warning != WarningTargetMissing {
		t.Fatalf("expected target-missing warning, got %q", eff.Warning)
	}
	if len(flags.flags) != 0 {
		t.Fatalf("flag must be cleared when the target is gone")
	}
}

func TestResolveFailsWhenSessionExpired(t *testing.T) {
	flags := newMemFlags()
	flags.flags["ghost"] = "cust-1"
	resolver := NewResolver(&fakeDirectory{}, &fakeCustomers{}, &fakeBoats{}, flags, time.Minute)

	_, err := resolver.Resolve(context.Background(), "ghost")
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	if len(flags.flags) != 0 {
		t.Fatalf("flag must be cleared when the principal is gone")
	}
}

func TestListAccessibleBoatsPolicies(t *testing.T) {
	allBoats := []store.Boat{{ID: "b1", CustomerID: "cust-1"}, {ID: "b2", CustomerID: "cust-2"}}
	customerBoats := []store.Boat{{ID: "b2", CustomerID: "cust-2"}}
	grantedBoats := []store.Boat{{ID: "b1", CustomerID: "cust-1"}}

	boats := &fakeBoats{
		listAllFn: func(context.Context) ([]store.Boat, error) { return allBoats, nil },
		listByCustomerFn: func(_ context.Context, customerID string) ([]store.Boat, error) {
			if customerID != "cust-2" {
				t.Fatalf("expected impersonated customer scope, got %q", customerID)
			}
			return customerBoats, nil
		},
		listForUserFn: func(_ context.Context, userID string) ([]store.Boat, error) {
			return grantedBoats, nil
		},
	}
	resolver := NewResolver(&fakeDirectory{}, &fakeCustomers{}, boats, newMemFlags(), time.Minute)
	ctx := context.Background()

	// Admin without impersonation sees everything, tagged as the admin view.
	got, isAdminView, err := resolver.ListAccessibleBoats(ctx, Effective{Principal: adminUser("admin-1")})
	if err != nil {
		t.Fatalf("admin list: %v", err)
	}
	if !isAdminView || len(got) != 2 {
		t.Fatalf("admin view should return all boats, got %d isAdminView=%v", len(got), isAdminView)
	}

	// The same admin while impersonating sees exactly one customer's boats.
	target := store.Customer{ID: "cust-2"}
	got, isAdminView, err = resolver.ListAccessibleBoats(ctx, Effective{
		Principal:      adminUser("admin-1"),
		Customer:       &target,
		IsImpersonated: true,
	})
	if err != nil {
		t.Fatalf("impersonated list: %v", err)
	}
	if isAdminView || len(got) != 1 || got[0].ID != "b2" {
		t.Fatalf("impersonation must narrow to the target's boats, got %+v isAdminView=%v", got, isAdminView)
	}

	// An ordinary customer sees only granted boats.
	got, isAdminView, err = resolver.ListAccessibleBoats(ctx, Effective{Principal: customerUser("user-9", "cust-1")})
	if err != nil {
		t.Fatalf("customer list: %v", err)
	}
	if isAdminView || len(got) != 1 || got[0].ID != "b1" {
		t.Fatalf("customer must see only granted boats, got %+v isAdminView=%v", got, isAdminView)
	}
}
