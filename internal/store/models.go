package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	CustomerID            *string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	DeactivatedAt         *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Customer struct {
	ID             string
	Name           string
	Email          string
	Phone          string
	BillingAddress string
	CreatedAt      time.Time
}

type Boat struct {
	ID         string
	CustomerID string
	Name       string
	Make       string
	Model      string
	LengthFt   int
	Slip       string
	PhotoKey   string
	CreatedAt  time.Time
}

// BoatAccess links a non-admin user to a boat they may view. A user's
// primary grant sorts first in listings.
type BoatAccess struct {
	ID        string
	BoatID    string
	UserID    string
	IsPrimary bool
	GrantedBy string
	GrantedAt time.Time
}

// ServiceRecord is one yard visit for a boat. Condition fields hold the raw
// values as entered; normalization happens at read time.
type ServiceRecord struct {
	ID             string
	BoatID         string
	ServiceType    string
	ServicedAt     time.Time
	PaintCondition string
	GrowthLevel    string
	AnodePercent   *int
	AnodesReplaced bool
	Technician     string
	Notes          string
	CreatedAt      time.Time
}

type Invoice struct {
	ID          string
	CustomerID  string
	BoatID      string
	Number      string
	Status      string
	AmountCents int64
	IssuedAt    time.Time
	DueAt       time.Time
	PaidAt      *time.Time
	CreatedAt   time.Time
}

type InvoiceLine struct {
	ID          string
	InvoiceID   string
	Description string
	Quantity    int
	AmountCents int64
}

type Message struct {
	ID          string
	CustomerID  string
	AuthorID    string
	AuthorName  string
	Body        string
	IsFromStaff bool
	ReadAt      *time.Time
	CreatedAt   time.Time
}

// SecurityEvent records security-relevant rejections, such as a non-admin
// attempting impersonation or stale admin privilege detected mid-session.
type SecurityEvent struct {
	ID        int64
	EventType string
	ActorID   string
	ActorName string
	TargetID  string
	Detail    string
	Path      string
	CreatedAt time.Time
}
