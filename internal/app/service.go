package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"harborview/api/internal/auth"
	"harborview/api/internal/authpw"
	"harborview/api/internal/blob"
	"harborview/api/internal/condition"
	"harborview/api/internal/config"
	"harborview/api/internal/email"
	"harborview/api/internal/export"
	"harborview/api/internal/identity"
	"harborview/api/internal/rbac"
	"harborview/api/internal/search"
	"harborview/api/internal/session"
	"harborview/api/internal/store"
	"harborview/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	CustomerID   *string
	JTI          string
	ExpiresAt    time.Time
}

type PostMessageInput struct {
	Body string `json:"body"`
}

type CreateServiceRecordInput struct {
	ServiceType    string `json:"serviceType"`
	ServicedAt     string `json:"servicedAt"`
	PaintCondition string `json:"paintCondition"`
	GrowthLevel    string `json:"growthLevel"`
	AnodePercent   *int   `json:"anodePercent"`
	AnodesReplaced bool   `json:"anodesReplaced"`
	Technician     string `json:"technician"`
	Notes          string `json:"notes"`
}

type dataStore interface {
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	GetCustomer(ctx context.Context, customerID string) (store.Customer, error)
	ListCustomers(ctx context.Context) ([]store.Customer, error)
	GetBoat(ctx context.Context, boatID string) (store.Boat, error)
	ListBoatsByCustomer(ctx context.Context, customerID string) ([]store.Boat, error)
	ListAllBoats(ctx context.Context) ([]store.Boat, error)
	ListBoatsForUser(ctx context.Context, userID string) ([]store.Boat, error)
	UpdateBoatPhotoKey(ctx context.Context, boatID, photoKey string) error
	ListServiceRecords(ctx context.Context, boatID string) ([]store.ServiceRecord, error)
	LatestServiceRecord(ctx context.Context, boatID string) (*store.ServiceRecord, error)
	InsertServiceRecord(ctx context.Context, item store.ServiceRecord) error
	GetInvoice(ctx context.Context, invoiceID string) (store.Invoice, error)
	ListInvoicesByCustomer(ctx context.Context, customerID string) ([]store.Invoice, error)
	ListInvoiceLines(ctx context.Context, invoiceID string) ([]store.InvoiceLine, error)
	ListMessages(ctx context.Context, customerID string, limit int) ([]store.Message, error)
	InsertMessage(ctx context.Context, item store.Message) error
	UnreadMessageCount(ctx context.Context, customerID string) (int, error)
	MarkMessagesRead(ctx context.Context, customerID string) error
	InsertSecurityEvent(ctx context.Context, event store.SecurityEvent) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
	SummaryCounts(ctx context.Context, customerID string) (int, int, int, error)
	Ping(ctx context.Context) error
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	Ping(ctx context.Context) error
}

type identityResolver interface {
	SetImpersonation(ctx context.Context, principalID, targetCustomerID string) error
	ClearImpersonation(ctx context.Context, principalID string) error
	Resolve(ctx context.Context, principalID string) (identity.Effective, error)
	ListAccessibleBoats(ctx context.Context, eff identity.Effective) ([]store.Boat, bool, error)
}

type searcher interface {
	Search(q search.Query) search.Response
	IndexService(rec search.ServiceRecordDoc)
	IndexMessage(m search.MessageRecord)
}

type invoiceExporter interface {
	ExportInvoicePDF(ctx context.Context, invoiceID string) (*export.Result, error)
}

type photoStore interface {
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	resolver identityResolver
	authpw   *authpw.Service
	search   searcher
	exporter invoiceExporter
	mailer   *email.Service
	photos   photoStore
}

func New(
	cfg config.Config,
	dataStore *store.PostgresStore,
	sessions *session.RedisStore,
	resolver *identity.Resolver,
	authSvc *authpw.Service,
	searchSvc *search.Service,
	exportSvc *export.Service,
	mailer *email.Service,
	photos *blob.Service,
) *Service {
	svc := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		resolver: resolver,
		authpw:   authSvc,
		mailer:   mailer,
	}
	if searchSvc != nil {
		svc.search = searchSvc
	}
	if exportSvc != nil {
		svc.exporter = exportSvc
	}
	if photos != nil {
		svc.photos = photos
	}
	return svc
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.mailer != nil && s.mailer.IsConfigured()
}

// SendVerificationEmail delivers the signup verification mail when SMTP is
// configured; callers fall back to the dev token response otherwise.
func (s *Service) SendVerificationEmail(to, userName, token string) {
	if !s.SMTPConfigured() {
		return
	}
	url := s.cfg.CORSOrigin + "/verify-email?token=" + token
	go func() {
		if err := s.mailer.SendVerificationEmail(to, userName, url); err != nil {
			log.Printf(`{"event":"email_send_failed","kind":"verification","error":"%v"}`, err)
		}
	}()
}

// SendPasswordResetEmail delivers the reset mail when SMTP is configured.
func (s *Service) SendPasswordResetEmail(to, userName, token string) {
	if !s.SMTPConfigured() || token == "" {
		return
	}
	url := s.cfg.CORSOrigin + "/reset-password?token=" + token
	go func() {
		if err := s.mailer.SendPasswordResetEmail(to, userName, url); err != nil {
			log.Printf(`{"event":"email_send_failed","kind":"password_reset","error":"%v"}`, err)
		}
	}()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) SessionsPing(ctx context.Context) error {
	if s.sessions == nil {
		return nil
	}
	return s.sessions.Ping(ctx)
}

// CreateSession issues an access/refresh pair for an authenticated user.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// The Redis entry only carries the user id; role and scope come from
	// the live record so the new token reflects any demotion.
	if live, err := s.store.GetUserByID(ctx, user.ID); err == nil {
		user = live
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		CustomerID:   user.CustomerID,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:      token,
		UserID:     user.ID,
		UserName:   user.DisplayName,
		Role:       user.Role,
		CustomerID: user.CustomerID,
		JTI:        claims.JTI,
		ExpiresAt:  time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	if session.UserID != "" {
		// An explicit logout also ends any impersonation.
		_ = s.resolver.ClearImpersonation(ctx, session.UserID)
	}
	return nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// Me returns the effective identity payload for the current session: the
// principal, the customer scope in effect, and any degradation warning.
func (s *Service) Me(ctx context.Context, session Session) (map[string]any, error) {
	eff, err := s.resolveEffective(ctx, session)
	if err != nil {
		return nil, err
	}
	return s.effectivePayload(eff), nil
}

func (s *Service) effectivePayload(eff identity.Effective) map[string]any {
	payload := map[string]any{
		"userId":         eff.Principal.ID,
		"userName":       eff.Principal.DisplayName,
		"role":           eff.Principal.Role,
		"isImpersonated": eff.IsImpersonated,
		"customer":       nil,
	}
	if eff.Customer != nil {
		payload["customer"] = map[string]any{
			"id":    eff.Customer.ID,
			"name":  eff.Customer.Name,
			"email": eff.Customer.Email,
			"phone": eff.Customer.Phone,
		}
	}
	if eff.Warning != "" {
		payload["warning"] = eff.Warning
	}
	return payload
}

// StartImpersonation sets the caller's impersonation target. Privilege is
// re-verified inside the resolver; rejections are recorded as security
// events before being surfaced.
func (s *Service) StartImpersonation(ctx context.Context, session Session, targetCustomerID, path string) (map[string]any, error) {
	targetCustomerID = strings.TrimSpace(targetCustomerID)
	if targetCustomerID == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "customerId is required", nil)
	}

	if err := s.resolver.SetImpersonation(ctx, session.UserID, targetCustomerID); err != nil {
		switch {
		case errors.Is(err, identity.ErrUnauthorized):
			s.recordSecurityEvent(ctx, "impersonation_denied", session, targetCustomerID, "non-admin attempted impersonation", path)
			return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		case errors.Is(err, identity.ErrNotFound):
			return nil, domainError(http.StatusNotFound, "CUSTOMER_NOT_FOUND", "Customer not found", nil)
		case errors.Is(err, identity.ErrNotAuthenticated):
			return nil, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		default:
			return nil, err
		}
	}

	s.recordSecurityEvent(ctx, "impersonation_started", session, targetCustomerID, "", path)
	return s.Me(ctx, session)
}

// StopImpersonation clears the caller's impersonation target.
func (s *Service) StopImpersonation(ctx context.Context, session Session, path string) (map[string]any, error) {
	if err := s.resolver.ClearImpersonation(ctx, session.UserID); err != nil {
		return nil, err
	}
	s.recordSecurityEvent(ctx, "impersonation_ended", session, "", "", path)
	return s.Me(ctx, session)
}

// resolveEffective resolves the effective identity and persists a security
// event when resolution detected stale admin privilege. The flag is cleared
// inside the resolver, so this fires once per revocation.
func (s *Service) resolveEffective(ctx context.Context, session Session) (identity.Effective, error) {
	principalID := session.UserID
	eff, err := s.resolver.Resolve(ctx, principalID)
	if err != nil {
		return identity.Effective{}, err
	}
	if eff.Warning == identity.WarningImpersonationRevoked {
		s.recordSecurityEvent(ctx, "impersonation_privilege_lost", session, "", "admin privilege revoked while impersonating", "")
	}
	return eff, nil
}

func (s *Service) recordSecurityEvent(ctx context.Context, eventType string, session Session, targetID, detail, path string) {
	if err := s.store.InsertSecurityEvent(ctx, store.SecurityEvent{
		EventType: eventType,
		ActorID:   session.UserID,
		ActorName: session.UserName,
		TargetID:  targetID,
		Detail:    detail,
		Path:      path,
	}); err != nil {
		log.Printf(`{"event":"security_event_write_failed","type":"%s","error":"%v"}`, eventType, err)
	}
}

// ListBoats returns the boats visible to the current session under the
// access policy: impersonation narrows to the target customer, staff/admin
// see the full fleet (tagged), customers see their explicit grants.
func (s *Service) ListBoats(ctx context.Context, session Session) (map[string]any, error) {
	eff, err := s.resolveEffective(ctx, session)
	if err != nil {
		return nil, err
	}
	boats, isAdminView, err := s.resolver.ListAccessibleBoats(ctx, eff)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(boats))
	for _, boat := range boats {
		items = append(items, s.boatSummary(ctx, boat))
	}
	payload := map[string]any{
		"boats":       items,
		"isAdminView": isAdminView,
	}
	if eff.IsImpersonated && eff.Customer != nil {
		payload["impersonatedCustomerId"] = eff.Customer.ID
	}
	if eff.Warning != "" {
		payload["warning"] = eff.Warning
	}
	return payload, nil
}

func (s *Service) boatSummary(ctx context.Context, boat store.Boat) map[string]any {
	item := map[string]any{
		"id":         boat.ID,
		"customerId": boat.CustomerID,
		"name":       boat.Name,
		"make":       boat.Make,
		"model":      boat.Model,
		"lengthFt":   boat.LengthFt,
		"slip":       boat.Slip,
	}
	if boat.PhotoKey != "" && s.photos != nil {
		if url, err := s.photos.PresignedURL(ctx, boat.PhotoKey, 15*time.Minute); err == nil {
			item["photoUrl"] = url
		}
	}
	if latest, err := s.store.LatestServiceRecord(ctx, boat.ID); err == nil && latest != nil {
		days := daysSince(latest.ServicedAt, time.Now())
		paint := condition.Normalize(latest.PaintCondition)
		item["lastServicedAt"] = latest.ServicedAt.Format(time.RFC3339)
		item["paintStatus"] = condition.Urgency(paint, days)
	}
	return item
}

// GetBoat returns one boat with its latest condition read-out. Boats outside
// the caller's scope read as not-found rather than forbidden.
func (s *Service) GetBoat(ctx context.Context, session Session, boatID string) (map[string]any, error) {
	eff, err := s.resolveEffective(ctx, session)
	if err != nil {
		return nil, err
	}
	boat, err := s.accessibleBoat(ctx, eff, boatID)
	if err != nil {
		return nil, err
	}

	payload := s.boatSummary(ctx, boat)
	latest, err := s.store.LatestServiceRecord(ctx, boat.ID)
	if err != nil {
		return nil, err
	}
	if latest != nil {
		lastReplacement := s.lastAnodeReplacement(ctx, boat.ID)
		payload["latestService"] = serviceRecordPayload(*latest, lastReplacement, time.Now())
	}
	if eff.Warning != "" {
		payload["warning"] = eff.Warning
	}
	return payload, nil
}

// BoatServiceHistory returns every service record for a boat with normalized
// conditions and derived urgency verdicts.
func (s *Service) BoatServiceHistory(ctx context.Context, session Session, boatID string) (map[string]any, error) {
	eff, err := s.resolveEffective(ctx, session)
	if err != nil {
		return nil, err
	}
	boat, err := s.accessibleBoat(ctx, eff, boatID)
	if err != nil {
		return nil, err
	}

	records, err := s.store.ListServiceRecords(ctx, boat.ID)
	if err != nil {
		return nil, err
	}
	lastReplacement := s.lastAnodeReplacement(ctx, boat.ID)
	now := time.Now()
	items := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		items = append(items, serviceRecordPayload(rec, lastReplacement, now))
	}
	return map[string]any{
		"boatId":  boat.ID,
		"records": items,
	}, nil
}

// CreateServiceRecord records a yard visit. Caller must hold the write
// action; raw condition strings are stored as entered and normalized on read.
func (s *Service) CreateServiceRecord(ctx context.Context, session Session, boatID string, input CreateServiceRecordInput) (map[string]any, error) {
	boat, err := s.store.GetBoat(ctx, boatID)
	if err != nil {
		return nil, err
	}

	serviceType := strings.TrimSpace(input.ServiceType)
	if serviceType == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "serviceType is required", nil)
	}
	servicedAt := time.Now()
	if raw := strings.TrimSpace(input.ServicedAt); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "servicedAt must be RFC3339", nil)
		}
		servicedAt = parsed
	}
	var anodePercent *int
	if input.AnodePercent != nil {
		pct := clampPercent(*input.AnodePercent)
		anodePercent = &pct
	}

	rec := store.ServiceRecord{
		ID:             util.NewID("svc"),
		BoatID:         boat.ID,
		ServiceType:    serviceType,
		ServicedAt:     servicedAt,
		PaintCondition: strings.TrimSpace(input.PaintCondition),
		GrowthLevel:    strings.TrimSpace(input.GrowthLevel),
		AnodePercent:   anodePercent,
		AnodesReplaced: input.AnodesReplaced,
		Technician:     strings.TrimSpace(input.Technician),
		Notes:          strings.TrimSpace(input.Notes),
	}
	if err := s.store.InsertServiceRecord(ctx, rec); err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexService(search.ServiceRecordDoc{
			ID:          rec.ID,
			ServiceType: rec.ServiceType,
			Notes:       rec.Notes,
			Technician:  rec.Technician,
			BoatID:      boat.ID,
			CustomerID:  boat.CustomerID,
		})
	}
	return serviceRecordPayload(rec, s.lastAnodeReplacement(ctx, boat.ID), time.Now()), nil
}

// UploadBoatPhoto replaces a boat's photo. Caller must hold the write action.
// The key swap lands before the old object is removed, so a failed delete
// leaves an orphan rather than a broken link.
func (s *Service) UploadBoatPhoto(ctx context.Context, session Session, boatID string, reader io.Reader, size int64, contentType string) (map[string]any, error) {
	if s.photos == nil {
		return nil, domainError(http.StatusServiceUnavailable, "PHOTOS_UNAVAILABLE", "Photo storage not configured", nil)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "photo must be an image", nil)
	}
	boat, err := s.store.GetBoat(ctx, boatID)
	if err != nil {
		return nil, err
	}

	key := "boats/" + boat.ID + "/" + util.NewID("photo")
	if err := s.photos.Upload(ctx, key, reader, size, contentType); err != nil {
		return nil, err
	}
	if err := s.store.UpdateBoatPhotoKey(ctx, boat.ID, key); err != nil {
		return nil, err
	}
	if boat.PhotoKey != "" {
		_ = s.photos.Delete(ctx, boat.PhotoKey)
	}
	boat.PhotoKey = key
	return s.boatSummary(ctx, boat), nil
}

// DeleteBoatPhoto removes a boat's photo and clears its key. Removing a boat
// without a photo is a no-op.
func (s *Service) DeleteBoatPhoto(ctx context.Context, session Session, boatID string) (map[string]any, error) {
	if s.photos == nil {
		return nil, domainError(http.StatusServiceUnavailable, "PHOTOS_UNAVAILABLE", "Photo storage not configured", nil)
	}
	boat, err := s.store.GetBoat(ctx, boatID)
	if err != nil {
		return nil, err
	}
	if boat.PhotoKey != "" {
		if err := s.photos.Delete(ctx, boat.PhotoKey); err != nil {
			return nil, err
		}
		if err := s.store.UpdateBoatPhotoKey(ctx, boat.ID, ""); err != nil {
			return nil, err
		}
		boat.PhotoKey = ""
	}
	return s.boatSummary(ctx, boat), nil
}

// ListInvoices lists invoices for the effective customer scope. An admin
// without impersonation passes an explicit customer id.
func (s *Service) ListInvoices(ctx context.Context, session Session, customerID string) (map[string]any, error) {
	eff, err := s.resolveEffective(ctx, session)
	if err != nil {
		return nil, err
	}
	scope, err := s.customerScope(eff, customerID)
	if err != nil {
		return nil, err
	}

	invoices, err := s.store.ListInvoicesByCustomer(ctx, scope)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(invoices))
	for _, inv := range invoices {
		item := map[string]any{
			"id":          inv.ID,
			"number":      inv.Number,
			"status":      inv.Status,
			"amountCents": inv.AmountCents,
			"issuedAt":    inv.IssuedAt.Format(time.RFC3339),
			"dueAt":       inv.DueAt.Format(time.RFC3339),
		}
		if inv.PaidAt != nil {
			item["paidAt"] = inv.PaidAt.Format(time.RFC3339)
		}
		items = append(items, item)
	}
	return map[string]any{
		"customerId": scope,
		"invoices":   items,
	}, nil
}

// GetInvoice returns one invoice with its line items, enforcing the same
// customer scoping as invoice listings.
func (s *Service) GetInvoice(ctx context.Context, session Session, invoiceID string) (map[string]any, error) {
	eff, err := s.resolveEffective(ctx, session)
	if err != nil {
		return nil, err
	}
	invoice, err := s.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if !s.customerVisible(eff, invoice.CustomerID) {
		return nil, sql.ErrNoRows
	}
	lines, err := s.store.ListInvoiceLines(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	lineItems := make([]map[string]any, 0, len(lines))
	for _, line := range lines {
		lineItems = append(lineItems, map[string]any{
			"description": line.Description,
			"quantity":    line.Quantity,
			"amountCents": line.AmountCents,
		})
	}
	payload := map[string]any{
		"id":          invoice.ID,
		"customerId":  invoice.CustomerID,
		"boatId":      invoice.BoatID,
		"number":      invoice.Number,
		"status":      invoice.Status,
		"amountCents": invoice.AmountCents,
		"issuedAt":    invoice.IssuedAt.Format(time.RFC3339),
		"dueAt":       invoice.DueAt.Format(time.RFC3339),
		"lines":       lineItems,
	}
	if invoice.PaidAt != nil {
		payload["paidAt"] = invoice.PaidAt.Format(time.RFC3339)
	}
	return payload, nil
}

// InvoicePDF renders one invoice as a PDF, enforcing the same customer
// scoping as invoice listings.
func (s *Service) InvoicePDF(ctx context.Context, session Session, invoiceID string) (*export.Result, error) {
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export not configured", nil)
	}
	eff, err := s.resolveEffective(ctx, session)
	if err != nil {
		return nil, err
	}
	invoice, err := s.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if !s.customerVisible(eff, invoice.CustomerID) {
		return nil, sql.ErrNoRows
	}
	return s.exporter.ExportInvoicePDF(ctx, invoiceID)
}

// ListMessages returns the message thread for the effective customer and
// marks it read for customer principals.
func (s *Service) ListMessages(ctx context.Context, session Session, customerID string) (map[string]any, error) {
	eff, err := s.resolveEffective(ctx, session)
	if err != nil {
		return nil, err
	}
	scope, err := s.customerScope(eff, customerID)
	if err != nil {
		return nil, err
	}

	messages, err := s.store.ListMessages(ctx, scope, 100)
	if err != nil {
		return nil, err
	}
	unread, err := s.store.UnreadMessageCount(ctx, scope)
	if err != nil {
		return nil, err
	}
	// Reading your own thread clears the unread badge. Staff browsing or
	// impersonating does not consume the customer's unread state, so for
	// them unreadCount reports what the customer still has pending.
	if !eff.IsImpersonated && eff.Customer != nil && eff.Customer.ID == scope {
		_ = s.store.MarkMessagesRead(ctx, scope)
	}

	items := make([]map[string]any, 0, len(messages))
	for _, msg := range messages {
		item := map[string]any{
			"id":          msg.ID,
			"authorName":  msg.AuthorName,
			"body":        msg.Body,
			"isFromStaff": msg.IsFromStaff,
			"createdAt":   msg.CreatedAt.Format(time.RFC3339),
		}
		if msg.ReadAt != nil {
			item["readAt"] = msg.ReadAt.Format(time.RFC3339)
		}
		items = append(items, item)
	}
	return map[string]any{
		"customerId":  scope,
		"messages":    items,
		"unreadCount": unread,
	}, nil
}

// PostMessage appends to the effective customer's thread. Staff posts notify
// the customer by email when SMTP is configured.
func (s *Service) PostMessage(ctx context.Context, session Session, customerID string, input PostMessageInput) (map[string]any, error) {
	eff, err := s.resolveEffective(ctx, session)
	if err != nil {
		return nil, err
	}
	scope, err := s.customerScope(eff, customerID)
	if err != nil {
		return nil, err
	}
	body := strings.TrimSpace(input.Body)
	if body == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "body is required", nil)
	}

	isStaff := rbac.Can(rbac.Normalize(eff.Principal.Role), rbac.ActionAdminView)
	msg := store.Message{
		ID:          util.NewID("msg"),
		CustomerID:  scope,
		AuthorID:    eff.Principal.ID,
		AuthorName:  eff.Principal.DisplayName,
		Body:        body,
		IsFromStaff: isStaff,
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexMessage(search.MessageRecord{
			ID:         msg.ID,
			Body:       msg.Body,
			AuthorName: msg.AuthorName,
			CustomerID: scope,
		})
	}
	if isStaff && s.SMTPConfigured() {
		if customer, err := s.store.GetCustomer(ctx, scope); err == nil && customer.Email != "" {
			preview := body
			if len(preview) > 140 {
				preview = preview[:140] + "…"
			}
			name, email, author := customer.Name, customer.Email, msg.AuthorName
			portalURL := s.cfg.CORSOrigin + "/messages"
			go func() {
				if err := s.mailer.SendMessageNotification(email, name, author, preview, portalURL); err != nil {
					log.Printf(`{"event":"email_send_failed","kind":"message_notification","error":"%v"}`, err)
				}
			}()
		}
	}
	return s.ListMessages(ctx, session, customerID)
}

// Dashboard summarizes the effective scope: per-customer counts for a
// customer view, fleet-wide figures for staff browsing unscoped.
func (s *Service) Dashboard(ctx context.Context, session Session) (map[string]any, error) {
	eff, err := s.resolveEffective(ctx, session)
	if err != nil {
		return nil, err
	}

	if eff.Customer != nil {
		boats, openInvoices, unread, err := s.store.SummaryCounts(ctx, eff.Customer.ID)
		if err != nil {
			return nil, err
		}
		payload := map[string]any{
			"customerId":     eff.Customer.ID,
			"customerName":   eff.Customer.Name,
			"boats":          boats,
			"openInvoices":   openInvoices,
			"unreadMessages": unread,
			"needsAttention": s.attentionRollup(ctx, eff.Customer.ID),
			"isImpersonated": eff.IsImpersonated,
		}
		if eff.Warning != "" {
			payload["warning"] = eff.Warning
		}
		return payload, nil
	}

	if !rbac.Can(rbac.Normalize(eff.Principal.Role), rbac.ActionAdminView) {
		// Customer account without a linked customer record: empty dashboard.
		return map[string]any{
			"boats":          0,
			"openInvoices":   0,
			"unreadMessages": 0,
			"isImpersonated": false,
		}, nil
	}

	customers, err := s.store.ListCustomers(ctx)
	if err != nil {
		return nil, err
	}
	boats, err := s.store.ListAllBoats(ctx)
	if err != nil {
		return nil, err
	}
	customerItems := make([]map[string]any, 0, len(customers))
	for _, customer := range customers {
		customerItems = append(customerItems, map[string]any{
			"id":    customer.ID,
			"name":  customer.Name,
			"email": customer.Email,
		})
	}
	return map[string]any{
		"isAdminView": true,
		"customers":   customerItems,
		"totalBoats":  len(boats),
	}, nil
}

// attentionRollup lists the customer's boats whose latest paint reading has
// come due. Order follows the fleet listing.
func (s *Service) attentionRollup(ctx context.Context, customerID string) []map[string]any {
	items := make([]map[string]any, 0)
	boats, err := s.store.ListBoatsByCustomer(ctx, customerID)
	if err != nil {
		return items
	}
	now := time.Now()
	for _, boat := range boats {
		latest, err := s.store.LatestServiceRecord(ctx, boat.ID)
		if err != nil || latest == nil {
			continue
		}
		verdict := condition.Urgency(condition.Normalize(latest.PaintCondition), daysSince(latest.ServicedAt, now))
		if !verdict.IsDue {
			continue
		}
		items = append(items, map[string]any{
			"boatId":   boat.ID,
			"boatName": boat.Name,
			"status":   verdict.Status,
			"message":  verdict.Message,
		})
	}
	return items
}

// Search scopes full-text search to the effective customer; staff browsing
// unscoped search the whole yard.
func (s *Service) Search(ctx context.Context, session Session, q, filterType string, limit, offset int) (map[string]any, error) {
	eff, err := s.resolveEffective(ctx, session)
	if err != nil {
		return nil, err
	}
	if s.search == nil {
		return nil, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search not configured", nil)
	}

	customerID := ""
	switch {
	case eff.Customer != nil:
		customerID = eff.Customer.ID
	case rbac.Can(rbac.Normalize(eff.Principal.Role), rbac.ActionAdminView):
		// unscoped
	default:
		return map[string]any{"results": []any{}, "total": 0, "query": q}, nil
	}

	resp := s.search.Search(search.Query{
		Text:       q,
		FilterType: search.ResultType(filterType),
		CustomerID: customerID,
		Limit:      limit,
		Offset:     offset,
	})
	return map[string]any{
		"results": resp.Results,
		"total":   resp.Total,
		"query":   resp.Query,
	}, nil
}

// accessibleBoat fetches a boat and verifies it is inside the caller's scope.
// Out-of-scope boats surface as sql.ErrNoRows so existence never leaks.
func (s *Service) accessibleBoat(ctx context.Context, eff identity.Effective, boatID string) (store.Boat, error) {
	boat, err := s.store.GetBoat(ctx, boatID)
	if err != nil {
		return store.Boat{}, err
	}
	if eff.IsImpersonated && eff.Customer != nil {
		if boat.CustomerID != eff.Customer.ID {
			return store.Boat{}, sql.ErrNoRows
		}
		return boat, nil
	}
	if rbac.Can(rbac.Normalize(eff.Principal.Role), rbac.ActionAdminView) {
		return boat, nil
	}
	granted, err := s.store.ListBoatsForUser(ctx, eff.Principal.ID)
	if err != nil {
		return store.Boat{}, err
	}
	for _, g := range granted {
		if g.ID == boat.ID {
			return boat, nil
		}
	}
	return store.Boat{}, sql.ErrNoRows
}

// customerScope resolves which customer id an operation applies to. The
// effective customer wins; staff without impersonation must name one.
func (s *Service) customerScope(eff identity.Effective, explicit string) (string, error) {
	if eff.IsImpersonated && eff.Customer != nil {
		return eff.Customer.ID, nil
	}
	if eff.Customer != nil {
		return eff.Customer.ID, nil
	}
	if rbac.Can(rbac.Normalize(eff.Principal.Role), rbac.ActionAdminView) {
		explicit = strings.TrimSpace(explicit)
		if explicit == "" {
			return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "customerId is required for staff access", nil)
		}
		return explicit, nil
	}
	return "", domainError(http.StatusForbidden, "FORBIDDEN", "No customer scope for this account", nil)
}

func (s *Service) customerVisible(eff identity.Effective, customerID string) bool {
	if eff.IsImpersonated && eff.Customer != nil {
		return eff.Customer.ID == customerID
	}
	if eff.Customer != nil && eff.Customer.ID == customerID {
		return true
	}
	return rbac.Can(rbac.Normalize(eff.Principal.Role), rbac.ActionAdminView)
}

// lastAnodeReplacement finds the most recent visit where anodes were swapped,
// used to annotate nearby readings as replacements rather than wear.
func (s *Service) lastAnodeReplacement(ctx context.Context, boatID string) *time.Time {
	records, err := s.store.ListServiceRecords(ctx, boatID)
	if err != nil {
		return nil
	}
	for _, rec := range records {
		if rec.AnodesReplaced {
			t := rec.ServicedAt
			return &t
		}
	}
	return nil
}

func serviceRecordPayload(rec store.ServiceRecord, lastAnodeReplacement *time.Time, now time.Time) map[string]any {
	days := daysSince(rec.ServicedAt, now)
	item := map[string]any{
		"id":             rec.ID,
		"boatId":         rec.BoatID,
		"serviceType":    rec.ServiceType,
		"servicedAt":     rec.ServicedAt.Format(time.RFC3339),
		"technician":     rec.Technician,
		"notes":          rec.Notes,
		"anodesReplaced": rec.AnodesReplaced,
		"paint":          conditionPayload(condition.Normalize(rec.PaintCondition), days),
		"growth":         conditionPayload(condition.Normalize(rec.GrowthLevel), days),
	}
	if rec.AnodePercent != nil {
		pct := clampPercent(*rec.AnodePercent)
		anode := conditionPayload(condition.FromPercent(pct), days)
		anode["percent"] = pct
		if lastAnodeReplacement != nil {
			anode["recentlyReplaced"] = condition.IsRecentlyReplaced(rec.ServicedAt, *lastAnodeReplacement)
		}
		item["anode"] = anode
	}
	return item
}

func conditionPayload(c condition.Condition, daysSinceInspection int) map[string]any {
	return map[string]any{
		"condition": string(c),
		"label":     condition.Label(c),
		"severity":  condition.SeverityOf(c),
		"verdict":   condition.Urgency(c, daysSinceInspection),
	}
}

func daysSince(t, now time.Time) int {
	if t.IsZero() {
		return 0
	}
	days := int(now.Sub(t).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

func clampPercent(pct int) int {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

