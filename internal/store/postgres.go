package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users ----

const userColumns = `id, display_name, email, password_hash, role, customer_id,
	is_email_verified, COALESCE(verification_token, ''), verification_expires_at,
	deactivated_at, created_at, updated_at`

func scanUser(row *sql.Row) (User, error) {
	var user User
	err := row.Scan(
		&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role,
		&user.CustomerID, &user.IsEmailVerified, &user.VerificationToken,
		&user.VerificationExpiresAt, &user.DeactivatedAt, &user.CreatedAt, &user.UpdatedAt,
	)
	return user, err
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id=$1 AND deactivated_at IS NULL`, userID))
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE LOWER(email)=LOWER($1) AND deactivated_at IS NULL`, email))
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role, customer_id, is_email_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Role, user.CustomerID, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW() WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1
	`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token) DO NOTHING
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// ---- refresh sessions (Postgres fallback when Redis is not configured) ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.email, u.role, u.customer_id
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
			AND u.deactivated_at IS NULL
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role, &user.CustomerID)
	if err != nil {
		return User{}, err
	}
	if user.Role == "" {
		user.Role = "customer"
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ---- customers ----

func (s *PostgresStore) GetCustomer(ctx context.Context, customerID string) (Customer, error) {
	var item Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, COALESCE(phone, ''), COALESCE(billing_address, ''), created_at
		FROM customers WHERE id=$1
	`, customerID).Scan(&item.ID, &item.Name, &item.Email, &item.Phone, &item.BillingAddress, &item.CreatedAt)
	if err != nil {
		return Customer{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListCustomers(ctx context.Context) ([]Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, email, COALESCE(phone, ''), COALESCE(billing_address, ''), created_at
		FROM customers ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	defer rows.Close()

	items := make([]Customer, 0)
	for rows.Next() {
		var item Customer
		if err := rows.Scan(&item.ID, &item.Name, &item.Email, &item.Phone, &item.BillingAddress, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate customers: %w", err)
	}
	return items, nil
}

// ---- boats ----

const boatColumns = `id, customer_id, name, COALESCE(make, ''), COALESCE(model, ''),
	COALESCE(length_ft, 0), COALESCE(slip, ''), COALESCE(photo_key, ''), created_at`

func scanBoats(rows *sql.Rows) ([]Boat, error) {
	items := make([]Boat, 0)
	for rows.Next() {
		var item Boat
		if err := rows.Scan(&item.ID, &item.CustomerID, &item.Name, &item.Make, &item.Model,
			&item.LengthFt, &item.Slip, &item.PhotoKey, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan boat: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate boats: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetBoat(ctx context.Context, boatID string) (Boat, error) {
	var item Boat
	err := s.db.QueryRowContext(ctx, `SELECT `+boatColumns+` FROM boats WHERE id=$1`, boatID).
		Scan(&item.ID, &item.CustomerID, &item.Name, &item.Make, &item.Model,
			&item.LengthFt, &item.Slip, &item.PhotoKey, &item.CreatedAt)
	if err != nil {
		return Boat{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListBoatsByCustomer(ctx context.Context, customerID string) ([]Boat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+boatColumns+` FROM boats WHERE customer_id=$1 ORDER BY name`, customerID)
	if err != nil {
		return nil, fmt.Errorf("list boats by customer: %w", err)
	}
	defer rows.Close()
	return scanBoats(rows)
}

func (s *PostgresStore) ListAllBoats(ctx context.Context) ([]Boat, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+boatColumns+` FROM boats ORDER BY customer_id, name`)
	if err != nil {
		return nil, fmt.Errorf("list all boats: %w", err)
	}
	defer rows.Close()
	return scanBoats(rows)
}

// ListBoatsForUser returns boats a user holds explicit access grants for,
// primary grant first.
func (s *PostgresStore) ListBoatsForUser(ctx context.Context, userID string) ([]Boat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.customer_id, b.name, COALESCE(b.make, ''), COALESCE(b.model, ''),
			COALESCE(b.length_ft, 0), COALESCE(b.slip, ''), COALESCE(b.photo_key, ''), b.created_at
		FROM boat_access ba
		JOIN boats b ON b.id = ba.boat_id
		WHERE ba.user_id = $1
		ORDER BY ba.is_primary DESC, ba.granted_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list boats for user: %w", err)
	}
	defer rows.Close()
	return scanBoats(rows)
}

// UpdateBoatPhotoKey swaps the stored object key for a boat's photo. An
// empty key clears it.
func (s *PostgresStore) UpdateBoatPhotoKey(ctx context.Context, boatID, photoKey string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE boats SET photo_key = NULLIF($2, '') WHERE id=$1`, boatID, photoKey)
	if err != nil {
		return fmt.Errorf("update boat photo key: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) InsertBoatAccess(ctx context.Context, grant BoatAccess) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO boat_access (id, boat_id, user_id, is_primary, granted_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (boat_id, user_id) DO NOTHING
	`, grant.ID, grant.BoatID, grant.UserID, grant.IsPrimary, grant.GrantedBy)
	if err != nil {
		return fmt.Errorf("insert boat access: %w", err)
	}
	return nil
}

// ---- service records ----

const serviceColumns = `id, boat_id, service_type, serviced_at,
	COALESCE(paint_condition, ''), COALESCE(growth_level, ''), anode_percent,
	anodes_replaced, COALESCE(technician, ''), COALESCE(notes, ''), created_at`

func scanServiceRecords(rows *sql.Rows) ([]ServiceRecord, error) {
	items := make([]ServiceRecord, 0)
	for rows.Next() {
		var item ServiceRecord
		if err := rows.Scan(&item.ID, &item.BoatID, &item.ServiceType, &item.ServicedAt,
			&item.PaintCondition, &item.GrowthLevel, &item.AnodePercent,
			&item.AnodesReplaced, &item.Technician, &item.Notes, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan service record: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate service records: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListServiceRecords(ctx context.Context, boatID string) ([]ServiceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+serviceColumns+` FROM service_records WHERE boat_id=$1 ORDER BY serviced_at DESC`, boatID)
	if err != nil {
		return nil, fmt.Errorf("list service records: %w", err)
	}
	defer rows.Close()
	return scanServiceRecords(rows)
}

func (s *PostgresStore) LatestServiceRecord(ctx context.Context, boatID string) (*ServiceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+serviceColumns+` FROM service_records WHERE boat_id=$1 ORDER BY serviced_at DESC LIMIT 1`, boatID)
	if err != nil {
		return nil, fmt.Errorf("latest service record: %w", err)
	}
	defer rows.Close()
	items, err := scanServiceRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

func (s *PostgresStore) InsertServiceRecord(ctx context.Context, item ServiceRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO service_records (id, boat_id, service_type, serviced_at, paint_condition,
			growth_level, anode_percent, anodes_replaced, technician, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, item.ID, item.BoatID, item.ServiceType, item.ServicedAt, item.PaintCondition,
		item.GrowthLevel, item.AnodePercent, item.AnodesReplaced, item.Technician, item.Notes)
	if err != nil {
		return fmt.Errorf("insert service record: %w", err)
	}
	return nil
}

// ---- invoices ----

const invoiceColumns = `id, customer_id, boat_id, number, status, amount_cents,
	issued_at, due_at, paid_at, created_at`

func scanInvoices(rows *sql.Rows) ([]Invoice, error) {
	items := make([]Invoice, 0)
	for rows.Next() {
		var item Invoice
		if err := rows.Scan(&item.ID, &item.CustomerID, &item.BoatID, &item.Number, &item.Status,
			&item.AmountCents, &item.IssuedAt, &item.DueAt, &item.PaidAt, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invoices: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetInvoice(ctx context.Context, invoiceID string) (Invoice, error) {
	var item Invoice
	err := s.db.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id=$1`, invoiceID).
		Scan(&item.ID, &item.CustomerID, &item.BoatID, &item.Number, &item.Status,
			&item.AmountCents, &item.IssuedAt, &item.DueAt, &item.PaidAt, &item.CreatedAt)
	if err != nil {
		return Invoice{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListInvoicesByCustomer(ctx context.Context, customerID string) ([]Invoice, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE customer_id=$1 ORDER BY issued_at DESC`, customerID)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()
	return scanInvoices(rows)
}

func (s *PostgresStore) ListInvoiceLines(ctx context.Context, invoiceID string) ([]InvoiceLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, invoice_id, description, quantity, amount_cents
		FROM invoice_lines WHERE invoice_id=$1 ORDER BY id
	`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list invoice lines: %w", err)
	}
	defer rows.Close()

	items := make([]InvoiceLine, 0)
	for rows.Next() {
		var item InvoiceLine
		if err := rows.Scan(&item.ID, &item.InvoiceID, &item.Description, &item.Quantity, &item.AmountCents); err != nil {
			return nil, fmt.Errorf("scan invoice line: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invoice lines: %w", err)
	}
	return items, nil
}

// ---- messages ----

func (s *PostgresStore) ListMessages(ctx context.Context, customerID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, author_id, author_name, body, is_from_staff, read_at, created_at
		FROM messages WHERE customer_id=$1 ORDER BY created_at DESC LIMIT $2
	`, customerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := make([]Message, 0)
	for rows.Next() {
		var item Message
		if err := rows.Scan(&item.ID, &item.CustomerID, &item.AuthorID, &item.AuthorName,
			&item.Body, &item.IsFromStaff, &item.ReadAt, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertMessage(ctx context.Context, item Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, customer_id, author_id, author_name, body, is_from_staff)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.CustomerID, item.AuthorID, item.AuthorName, item.Body, item.IsFromStaff)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *PostgresStore) UnreadMessageCount(ctx context.Context, customerID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE customer_id=$1 AND is_from_staff AND read_at IS NULL
	`, customerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("unread message count: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) MarkMessagesRead(ctx context.Context, customerID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET read_at=NOW()
		WHERE customer_id=$1 AND is_from_staff AND read_at IS NULL
	`, customerID)
	if err != nil {
		return fmt.Errorf("mark messages read: %w", err)
	}
	return nil
}

// ---- security events ----

func (s *PostgresStore) InsertSecurityEvent(ctx context.Context, event SecurityEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO security_events (event_type, actor_id, actor_name, target_id, detail, path)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, event.EventType, event.ActorID, event.ActorName, event.TargetID, event.Detail, event.Path)
	if err != nil {
		return fmt.Errorf("insert security event: %w", err)
	}
	return nil
}

// ---- dashboard ----

// SummaryCounts returns boat, open-invoice, and unread-message counts for one
// customer's dashboard.
func (s *PostgresStore) SummaryCounts(ctx context.Context, customerID string) (int, int, int, error) {
	var boats, openInvoices, unread int
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM boats WHERE customer_id=$1),
			(SELECT COUNT(*) FROM invoices WHERE customer_id=$1 AND status NOT IN ('paid', 'void')),
			(SELECT COUNT(*) FROM messages WHERE customer_id=$1 AND is_from_staff AND read_at IS NULL)
	`, customerID).Scan(&boats, &openInvoices, &unread)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("summary counts: %w", err)
	}
	return boats, openInvoices, unread, nil
}
