package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "customer read", role: RoleCustomer, action: ActionRead, allow: true},
		{name: "customer message", role: RoleCustomer, action: ActionMessage, allow: true},
		{name: "customer write", role: RoleCustomer, action: ActionWrite, allow: false},
		{name: "customer impersonate", role: RoleCustomer, action: ActionImpersonate, allow: false},
		{name: "staff write", role: RoleStaff, action: ActionWrite, allow: true},
		{name: "staff admin view", role: RoleStaff, action: ActionAdminView, allow: true},
		{name: "staff impersonate", role: RoleStaff, action: ActionImpersonate, allow: false},
		{name: "admin impersonate", role: RoleAdmin, action: ActionImpersonate, allow: true},
		{name: "admin admin", role: RoleAdmin, action: ActionAdmin, allow: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("admin"); got != RoleAdmin {
		t.Fatalf("Normalize(admin) = %q", got)
	}
	if got := Normalize("superuser"); got != RoleCustomer {
		t.Fatalf("unknown role should normalize to customer, got %q", got)
	}
	if got := Normalize(""); got != RoleCustomer {
		t.Fatalf("empty role should normalize to customer, got %q", got)
	}
}

func TestIsAdmin(t *testing.T) {
	if !IsAdmin("admin") {
		t.Fatalf("expected admin to be admin")
	}
	if IsAdmin("staff") || IsAdmin("customer") || IsAdmin("") {
		t.Fatalf("non-admin roles must not pass IsAdmin")
	}
}
