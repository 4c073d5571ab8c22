package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"safevoice/api/internal/auth"
	"safevoice/api/internal/authpw"
	"safevoice/api/internal/blob"
	"safevoice/api/internal/config"
	"safevoice/api/internal/domain"
	"safevoice/api/internal/email"
	"safevoice/api/internal/export"
	"safevoice/api/internal/policy"
	"safevoice/api/internal/search"
	"safevoice/api/internal/store"
	"safevoice/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	Role         domain.Role
	Plan         domain.Plan
	JTI          string
	ExpiresAt    time.Time
}

func (s Session) IsAdmin() bool {
	return s.Role == domain.RoleAdmin
}

func (s Session) actor(report store.Report) policy.Actor {
	return policy.Actor{Role: s.Role, IsOwner: report.SubmittedBy == s.UserID}
}

type dataStore interface {
	CreateUser(context.Context, store.User) error
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	InsertReport(context.Context, store.Report) (store.Report, error)
	GetReport(context.Context, string) (store.Report, error)
	ListReports(context.Context, string, string) ([]store.Report, error)
	UpdateReportStatus(context.Context, string, string, string, string) (bool, error)
	ListStatusHistory(context.Context, string) ([]store.StatusChange, error)
	DeleteReport(context.Context, string) error
	InsertComment(context.Context, store.Comment) (store.Comment, error)
	ListComments(context.Context, string, bool) ([]store.Comment, error)
	InsertNotification(context.Context, store.Notification) error
	ListAdminIDs(context.Context) ([]string, error)
	ListNotifications(context.Context, string, int) ([]store.Notification, int, error)
	MarkNotificationRead(context.Context, string, string) (bool, error)
	MarkAllNotificationsRead(context.Context, string) (int64, error)
	ReportSummary(context.Context) (domain.Summary, error)
	InsertAccessRequest(context.Context, store.AccessRequest) error
	GetAccessRequest(context.Context, string) (store.AccessRequest, error)
	ListAccessRequests(context.Context, string) ([]store.AccessRequest, error)
	ReviewAccessRequest(context.Context, string, string, string) (bool, error)
	Ping(ctx context.Context) error
}

// refreshSessions holds refresh tokens. Postgres by default, Redis when configured.
type refreshSessions interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
}

type searchIndex interface {
	Search(context.Context, search.Query) search.Response
	IndexReport(search.ReportRecord)
	DeleteReport(string)
}

type attachmentStore interface {
	Put(context.Context, blob.Upload) (string, error)
	PresignedURL(context.Context, string) (string, error)
	Remove(context.Context, string) error
}

type certificateRenderer interface {
	Certificate(context.Context, domain.Report) (*export.Result, error)
}

type mailer interface {
	IsConfigured() bool
	SendStatusChanged(to string, data email.StatusChangedData) error
	SendAccessDecision(to string, data email.AccessDecisionData) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions refreshSessions
	external bool
	accounts *authpw.Service
	validate *validator.Validate
	search   searchIndex
	blobs    attachmentStore
	certs    certificateRenderer
	mail     mailer
	now      func() time.Time
}

type Option func(*Service)

// WithSessionStore moves refresh sessions out of Postgres.
func WithSessionStore(sessions refreshSessions) Option {
	return func(s *Service) {
		s.sessions = sessions
		s.external = true
	}
}

func WithSearch(index searchIndex) Option {
	return func(s *Service) { s.search = index }
}

func WithAttachments(blobs attachmentStore) Option {
	return func(s *Service) { s.blobs = blobs }
}

func WithCertificates(certs certificateRenderer) Option {
	return func(s *Service) { s.certs = certs }
}

func WithMailer(mail mailer) Option {
	return func(s *Service) { s.mail = mail }
}

func New(cfg config.Config, dataStore dataStore, opts ...Option) *Service {
	s := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: dataStore,
		accounts: authpw.NewService(dataStore),
		validate: newValidator(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// SessionPing checks the refresh-session backend when it is not Postgres.
func (s *Service) SessionPing(ctx context.Context) (bool, error) {
	pinger, ok := s.sessions.(interface{ Ping(context.Context) error })
	if !ok || !s.external {
		return false, nil
	}
	return true, pinger.Ping(ctx)
}

func (s *Service) SignUp(ctx context.Context, emailAddr, password, displayName string) (Session, error) {
	user, err := s.accounts.SignUp(ctx, authpw.SignUpRequest{
		Email:       emailAddr,
		Password:    password,
		DisplayName: displayName,
	})
	if err != nil {
		if errors.Is(err, authpw.ErrEmailTaken) {
			return Session{}, domainError(http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
		}
		if fields := authpw.FieldErrors(err); fields != nil {
			return Session{}, fieldsError(fields)
		}
		return Session{}, err
	}
	slog.Info("account created", "user_id", user.ID)
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, emailAddr, password string) (Session, error) {
	user, err := s.accounts.SignIn(ctx, authpw.SignInRequest{Email: emailAddr, Password: password})
	if err != nil {
		if errors.Is(err, authpw.ErrInvalidCredentials) {
			return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
		}
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates the token pair; the presented refresh token is revoked.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
	}
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		slog.Debug("refresh rejected", "error", err)
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")
	role, ok := domain.ParseRole(user.Role)
	if !ok {
		role = domain.RoleUser
	}
	plan := domain.NormalizePlan(user.Plan)

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Name: user.DisplayName,
		Role: string(role),
		Plan: string(plan),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewSecret(32)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		Role:         role,
		Plan:         plan,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken verifies an access token. Role and plan come from the
// user row so a promotion takes effect without waiting for a new token.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	role, ok := domain.ParseRole(user.Role)
	if !ok {
		role = domain.RoleUser
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Email:     user.Email,
		Role:      role,
		Plan:      domain.NormalizePlan(user.Plan),
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAtTime(),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		if err := s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			slog.Warn("revoke access token", "error", err)
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			slog.Warn("revoke refresh session", "error", err)
		}
	}
	return nil
}

func (s *Service) isSuperuser(session Session) bool {
	return s.cfg.IsSuperuser(session.Email)
}
