// Package identity resolves which customer's data a request should see.
//
// Three identity notions coexist: the authenticated principal, an optional
// admin impersonation target, and the effective identity used for queries.
// Impersonation state is ephemeral (session-scoped, TTL-bound) and is only
// honored after re-verifying admin privilege at resolution time — a cached
// "is impersonating" boolean is never trusted.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"harborview/api/internal/rbac"
	"harborview/api/internal/store"
)

var (
	// ErrUnauthorized means the principal lacks the privilege for the call.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotAuthenticated means no valid principal backs the session.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrNotFound means the impersonation target does not exist.
	ErrNotFound = errors.New("identity not found")
)

// Directory re-fetches principals from the identity store. Privilege must be
// re-derivable on every call, so this is the live user record, not a claim.
type Directory interface {
	GetUserByID(ctx context.Context, userID string) (store.User, error)
}

// CustomerStore fetches customer records for impersonation targets and for
// resolving a principal's own customer scope.
type CustomerStore interface {
	GetCustomer(ctx context.Context, customerID string) (store.Customer, error)
}

// BoatStore lists boats under the three access policies.
type BoatStore interface {
	ListBoatsByCustomer(ctx context.Context, customerID string) ([]store.Boat, error)
	ListAllBoats(ctx context.Context) ([]store.Boat, error)
	ListBoatsForUser(ctx context.Context, userID string) ([]store.Boat, error)
}

// FlagStore holds the ephemeral impersonation target, keyed by the admin's
// user id. Implementations return ErrNoFlag when nothing is set.
type FlagStore interface {
	SaveImpersonation(ctx context.Context, adminUserID, targetCustomerID string, ttl time.Duration) error
	LookupImpersonation(ctx context.Context, adminUserID string) (string, error)
	ClearImpersonation(ctx context.Context, adminUserID string) error
}

// ErrNoFlag is returned by FlagStore lookups when no target is set.
var ErrNoFlag = errors.New("no impersonation flag")

// Warning tags attached to an Effective identity when resolution had to
// degrade. The page still renders the fallback scope; these exist so callers
// can log and surface what happened.
const (
	WarningImpersonationRevoked = "impersonation-revoked"
	WarningTargetMissing        = "impersonation-target-missing"
)

// Effective is the resolved identity for one request. Customer is nil for an
// admin or staff principal browsing without impersonation (unscoped view).
type Effective struct {
	Principal      store.User
	Customer       *store.Customer
	IsImpersonated bool
	Warning        string
}

// Resolver derives effective identities. It holds no per-request state; the
// impersonation flag lives in the FlagStore and everything else is re-fetched
// per call, so resolution is a function of explicit inputs.
type Resolver struct {
	directory Directory
	customers CustomerStore
	boats     BoatStore
	flags     FlagStore
	flagTTL   time.Duration
}

func NewResolver(directory Directory, customers CustomerStore, boats BoatStore, flags FlagStore, flagTTL time.Duration) *Resolver {
	if flagTTL <= 0 {
		flagTTL = 15 * time.Minute
	}
	return &Resolver{
		directory: directory,
		customers: customers,
		boats:     boats,
		flags:     flags,
		flagTTL:   flagTTL,
	}
}

// SetImpersonation stores an impersonation target for an admin principal.
// Admin privilege is re-verified against the directory at call time; a
// non-admin caller gets ErrUnauthorized and no state is written. Callers
// must record rejections as security events.
func (r *Resolver) SetImpersonation(ctx context.Context, principalID, targetCustomerID string) error {
	principal, err := r.directory.GetUserByID(ctx, principalID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}
	if !rbac.IsAdmin(principal.Role) {
		return ErrUnauthorized
	}
	if _, err := r.customers.GetCustomer(ctx, targetCustomerID); err != nil {
		return fmt.Errorf("%w: customer %s", ErrNotFound, targetCustomerID)
	}
	if err := r.flags.SaveImpersonation(ctx, principalID, targetCustomerID, r.flagTTL); err != nil {
		return fmt.Errorf("save impersonation flag: %w", err)
	}
	return nil
}

// ClearImpersonation drops any impersonation target for the principal.
// Clearing an unset flag is not an error.
func (r *Resolver) ClearImpersonation(ctx context.Context, principalID string) error {
	if err := r.flags.ClearImpersonation(ctx, principalID); err != nil && !errors.Is(err, ErrNoFlag) {
		return fmt.Errorf("clear impersonation flag: %w", err)
	}
	return nil
}

// Resolve determines the effective identity for a request.
//
// With no target set, the principal's own customer scope applies. With a
// target set, the principal is re-fetched and admin privilege re-verified;
// stale or revoked privilege clears the flag and falls back to the real
// principal rather than trusting session state. A missing target likewise
// clears the flag and falls back with a warning tag instead of failing the
// page render.
func (r *Resolver) Resolve(ctx context.Context, principalID string) (Effective, error) {
	principal, err := r.directory.GetUserByID(ctx, principalID)
	if err != nil {
		// Session no longer maps to a live user. Clear any lingering flag so
		// a later re-authentication cannot inherit it.
		_ = r.flags.ClearImpersonation(ctx, principalID)
		return Effective{}, fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}

	target, err := r.flags.LookupImpersonation(ctx, principalID)
	if err != nil || target == "" {
		return r.ownScope(ctx, principal, "")
	}

	if !rbac.IsAdmin(principal.Role) {
		// Privilege revoked after the flag was set. Security event, not a
		// silent pass-through.
		log.Printf(`{"event":"impersonation_revoked","actor":"%s","target":"%s"}`, principal.ID, target)
		_ = r.flags.ClearImpersonation(ctx, principalID)
		return r.ownScope(ctx, principal, WarningImpersonationRevoked)
	}

	customer, err := r.customers.GetCustomer(ctx, target)
	if err != nil {
		log.Printf(`{"event":"impersonation_target_missing","actor":"%s","target":"%s"}`, principal.ID, target)
		_ = r.flags.ClearImpersonation(ctx, principalID)
		return r.ownScope(ctx, principal, WarningTargetMissing)
	}

	return Effective{
		Principal:      principal,
		Customer:       &customer,
		IsImpersonated: true,
	}, nil
}

// ownScope resolves the principal's own view: their linked customer record
// for ordinary accounts, or the unscoped staff/admin view.
func (r *Resolver) ownScope(ctx context.Context, principal store.User, warning string) (Effective, error) {
	eff := Effective{Principal: principal, Warning: warning}
	if principal.CustomerID == nil || *principal.CustomerID == "" {
		return eff, nil
	}
	customer, err := r.customers.GetCustomer(ctx, *principal.CustomerID)
	if err != nil {
		// The link is stale; render the account without customer data rather
		// than failing the page.
		return eff, nil
	}
	eff.Customer = &customer
	return eff, nil
}

// ListAccessibleBoats applies the three-branch access policy:
// impersonation narrows to exactly the target customer's boats; a verified
// admin or staff principal without impersonation sees every boat (tagged
// isAdminView); an ordinary customer sees only explicitly granted boats,
// primary grant first.
func (r *Resolver) ListAccessibleBoats(ctx context.Context, eff Effective) ([]store.Boat, bool, error) {
	if eff.IsImpersonated && eff.Customer != nil {
		boats, err := r.boats.ListBoatsByCustomer(ctx, eff.Customer.ID)
		return boats, false, err
	}
	if rbac.Can(rbac.Normalize(eff.Principal.Role), rbac.ActionAdminView) {
		boats, err := r.boats.ListAllBoats(ctx)
		return boats, true, err
	}
	boats, err := r.boats.ListBoatsForUser(ctx, eff.Principal.ID)
	return boats, false, err
}
