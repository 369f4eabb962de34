package handlers

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/md-rashed-zaman/lunchpass/libs/auth"
	"github.com/md-rashed-zaman/lunchpass/libs/httpx"
	"github.com/md-rashed-zaman/lunchpass/services/auth-service/internal/audit"
	"github.com/md-rashed-zaman/lunchpass/services/auth-service/internal/sessions"
	"github.com/md-rashed-zaman/lunchpass/services/auth-service/internal/storage"
	"golang.org/x/crypto/bcrypt"
)

const (
	AuditLoginSucceeded = "login.succeeded"
	AuditLoginFailed    = "login.failed"
	AuditUserCreated    = "user.created"
	AuditKeyRotated     = "jwt.rotated"

	minPasswordLen = 8
)

type Users interface {
	Create(ctx context.Context, u storage.User) (storage.User, error)
	GetByEmail(ctx context.Context, email string) (storage.User, error)
	GetByID(ctx context.Context, id string) (storage.User, error)
}

type Sessions interface {
	Create(ctx context.Context, userID, rawToken string, expiresAt time.Time) (string, error)
	GetByHash(ctx context.Context, hash string) (sessions.RefreshToken, error)
	Revoke(ctx context.Context, id string) (bool, error)
}

type AuditLog interface {
	Record(ctx context.Context, eventType, actorID string, metadata map[string]any) error
	List(ctx context.Context, f audit.Filter) ([]audit.Event, error)
}

type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// AdminKey guards key rotation and audit reads for operators without a
	// super_admin token. Empty disables the header check.
	AdminKey string
}

type AuthHandler struct {
	signer   TokenSigner
	users    Users
	sessions Sessions
	audit    AuditLog
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time
}

func NewAuthHandler(signer TokenSigner, users Users, sess Sessions, auditLog AuditLog, logger *slog.Logger, cfg Config) *AuthHandler {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = time.Hour
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}
	return &AuthHandler{
		signer:   signer,
		users:    users,
		sessions: sess,
		audit:    auditLog,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

func (h *AuthHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/v1/auth/login", h.Login)
	r.Post("/v1/auth/refresh", h.Refresh)
	r.Post("/v1/auth/logout", h.Logout)
	r.Get("/v1/auth/me", h.Me)
	r.Post("/v1/auth/users", h.CreateUser)
	r.Post("/v1/auth/rotate", h.Rotate)
	r.Get("/v1/auth/audit", h.Audit)
	r.Get("/.well-known/jwks.json", h.JWKS)
	return r
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type userResponse struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Role         string `json:"role"`
	CompanyID    string `json:"company_id,omitempty"`
	RestaurantID string `json:"restaurant_id,omitempty"`
}

func userJSON(u storage.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, Role: u.Role, CompanyID: u.CompanyID, RestaurantID: u.RestaurantID}
}

type createUserRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	Role         string `json:"role"`
	CompanyID    string `json:"company_id,omitempty"`
	RestaurantID string `json:"restaurant_id,omitempty"`
}

// NormalizeEmail lower-cases and trims, so logins are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// authorizeCreate checks what the caller may create and returns the request
// with scoping applied. The int is the HTTP status on failure.
func authorizeCreate(p auth.Principal, req createUserRequest) (createUserRequest, int, string) {
	switch {
	case p.Is(auth.RoleSuperAdmin):
	case p.Is(auth.RoleEmployer):
		if req.Role != auth.RoleEmployee {
			return req, http.StatusForbidden, "employers may only create employees"
		}
		if req.CompanyID != "" && req.CompanyID != p.CompanyID {
			return req, http.StatusForbidden, "forbidden"
		}
		req.CompanyID = p.CompanyID
	default:
		return req, http.StatusForbidden, "forbidden"
	}

	switch req.Role {
	case auth.RoleEmployee, auth.RoleEmployer:
		if _, err := uuid.Parse(req.CompanyID); err != nil {
			return req, http.StatusBadRequest, "company_id must be a uuid"
		}
		req.RestaurantID = ""
	case auth.RoleRestaurantAdmin:
		if _, err := uuid.Parse(req.RestaurantID); err != nil {
			return req, http.StatusBadRequest, "restaurant_id must be a uuid"
		}
		req.CompanyID = ""
	case auth.RoleSuperAdmin:
		req.CompanyID, req.RestaurantID = "", ""
	}
	return req, 0, ""
}

func (h *AuthHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", httpx.DecodeStatus(err))
		return
	}
	req.Email = NormalizeEmail(req.Email)
	req.Role = strings.TrimSpace(req.Role)
	req.CompanyID = strings.TrimSpace(req.CompanyID)
	req.RestaurantID = strings.TrimSpace(req.RestaurantID)
	if !strings.Contains(req.Email, "@") {
		http.Error(w, "valid email required", http.StatusBadRequest)
		return
	}
	if len(req.Password) < minPasswordLen {
		http.Error(w, "password must be at least 8 characters", http.StatusBadRequest)
		return
	}
	if !auth.ValidRole(req.Role) {
		http.Error(w, "unknown role", http.StatusBadRequest)
		return
	}

	caller := auth.PrincipalFromRequest(r)
	req, status, msg := authorizeCreate(caller, req)
	if status != 0 {
		http.Error(w, msg, status)
		return
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		http.Error(w, "failed to hash password", http.StatusInternalServerError)
		return
	}
	user, err := h.users.Create(r.Context(), storage.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		PasswordHash: hash,
		Role:         req.Role,
		CompanyID:    req.CompanyID,
		RestaurantID: req.RestaurantID,
	})
	if errors.Is(err, storage.ErrEmailTaken) {
		http.Error(w, "email already registered", http.StatusConflict)
		return
	}
	if err != nil {
		h.logger.Error("create user failed", "err", err)
		http.Error(w, "failed to create user", http.StatusInternalServerError)
		return
	}
	h.record(r.Context(), AuditUserCreated, caller.UserID, map[string]any{"user_id": user.ID, "role": user.Role})
	httpx.WriteJSON(w, http.StatusCreated, userJSON(user))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", httpx.DecodeStatus(err))
		return
	}
	req.Email = NormalizeEmail(req.Email)
	if req.Email == "" || req.Password == "" {
		http.Error(w, "email and password required", http.StatusBadRequest)
		return
	}

	user, err := h.users.GetByEmail(r.Context(), req.Email)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		h.logger.Error("lookup user failed", "err", err)
		http.Error(w, "failed to lookup user", http.StatusInternalServerError)
		return
	}
	if err != nil || verifyPassword(user.PasswordHash, req.Password) != nil {
		h.record(r.Context(), AuditLoginFailed, user.ID, map[string]any{"email": req.Email})
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	resp, err := h.issueTokens(r.Context(), user)
	if err != nil {
		h.logger.Error("issue tokens failed", "err", err)
		http.Error(w, "failed to issue token", http.StatusInternalServerError)
		return
	}
	h.record(r.Context(), AuditLoginSucceeded, user.ID, map[string]any{"email": req.Email})
	httpx.WriteJSON(w, http.StatusOK, resp)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", httpx.DecodeStatus(err))
		return
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		http.Error(w, "refresh_token required", http.StatusBadRequest)
		return
	}

	record, err := h.sessions.GetByHash(r.Context(), sessions.HashToken(req.RefreshToken))
	if errors.Is(err, sessions.ErrNotFound) {
		http.Error(w, "invalid refresh token", http.StatusUnauthorized)
		return
	}
	if err != nil {
		http.Error(w, "failed to lookup refresh token", http.StatusInternalServerError)
		return
	}
	if !record.Usable(h.now()) {
		http.Error(w, "refresh token expired", http.StatusUnauthorized)
		return
	}

	user, err := h.users.GetByID(r.Context(), record.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "invalid refresh token", http.StatusUnauthorized)
		return
	}
	if err != nil {
		http.Error(w, "failed to lookup user", http.StatusInternalServerError)
		return
	}

	revoked, err := h.sessions.Revoke(r.Context(), record.ID)
	if err != nil {
		http.Error(w, "failed to rotate refresh token", http.StatusInternalServerError)
		return
	}
	if !revoked {
		http.Error(w, "refresh token expired", http.StatusUnauthorized)
		return
	}

	resp, err := h.issueTokens(r.Context(), user)
	if err != nil {
		h.logger.Error("issue tokens failed", "err", err)
		http.Error(w, "failed to issue token", http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// Logout is idempotent: unknown or already revoked tokens still get 204.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", httpx.DecodeStatus(err))
		return
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		http.Error(w, "refresh_token required", http.StatusBadRequest)
		return
	}

	record, err := h.sessions.GetByHash(r.Context(), sessions.HashToken(req.RefreshToken))
	if errors.Is(err, sessions.ErrNotFound) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		http.Error(w, "failed to lookup refresh token", http.StatusInternalServerError)
		return
	}
	if _, err := h.sessions.Revoke(r.Context(), record.ID); err != nil {
		http.Error(w, "failed to revoke refresh token", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me accepts a bearer token directly or the principal headers set by the
// gateway.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID := auth.PrincipalFromRequest(r).UserID
	if token, ok := auth.BearerToken(r.Header.Get("Authorization")); ok {
		claims, err := h.signer.Verify(token)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		userID = claims.Subject
	}
	if userID == "" {
		http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
		return
	}

	user, err := h.users.GetByID(r.Context(), userID)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "failed to lookup user", http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, userJSON(user))
}

func (h *AuthHandler) JWKS(w http.ResponseWriter, r *http.Request) {
	keys := h.signer.JWKS()
	if len(keys) == 0 {
		http.Error(w, "jwks not available", http.StatusNotFound)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	httpx.WriteJSON(w, http.StatusOK, auth.JWKS{Keys: keys})
}

func (h *AuthHandler) operator(r *http.Request) bool {
	if auth.PrincipalFromRequest(r).Is(auth.RoleSuperAdmin) {
		return true
	}
	key := r.Header.Get("X-Admin-Key")
	return h.cfg.AdminKey != "" && subtle.ConstantTimeCompare([]byte(key), []byte(h.cfg.AdminKey)) == 1
}

func (h *AuthHandler) Rotate(w http.ResponseWriter, r *http.Request) {
	if !h.operator(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req struct {
		ActiveKid string `json:"active_kid"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil || req.ActiveKid == "" {
		http.Error(w, "active_kid is required", http.StatusBadRequest)
		return
	}
	if err := h.signer.Activate(req.ActiveKid); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.record(r.Context(), AuditKeyRotated, auth.PrincipalFromRequest(r).UserID, map[string]any{"active_kid": req.ActiveKid})
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) Audit(w http.ResponseWriter, r *http.Request) {
	if !h.operator(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	q := r.URL.Query()
	f := audit.Filter{EventType: q.Get("type"), ActorID: q.Get("actor_id")}
	if v := q.Get("before"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, "before must be an event id", http.StatusBadRequest)
			return
		}
		f.Before = n
	}
	if v := q.Get("limit"); v != "" {
		f.Limit, _ = strconv.Atoi(v)
	}
	if f.ActorID != "" && uuid.Validate(f.ActorID) != nil {
		http.Error(w, "actor_id must be a uuid", http.StatusBadRequest)
		return
	}
	list, err := h.audit.List(r.Context(), f)
	if err != nil {
		http.Error(w, "failed to load audit events", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []audit.Event{}
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}

func (h *AuthHandler) issueTokens(ctx context.Context, user storage.User) (tokenResponse, error) {
	claims := auth.NewClaims(user.ID, user.Role, user.CompanyID, user.RestaurantID, h.now(), h.cfg.AccessTTL)
	access, err := h.signer.Sign(claims)
	if err != nil {
		return tokenResponse{}, err
	}
	raw, err := newRefreshToken()
	if err != nil {
		return tokenResponse{}, err
	}
	if _, err := h.sessions.Create(ctx, user.ID, raw, h.now().Add(h.cfg.RefreshTTL)); err != nil {
		return tokenResponse{}, err
	}
	return tokenResponse{
		AccessToken:  access,
		RefreshToken: raw,
		TokenType:    "Bearer",
		ExpiresIn:    int64(h.cfg.AccessTTL / time.Second),
	}, nil
}

// record never fails the request; a lost audit row is logged instead.
func (h *AuthHandler) record(ctx context.Context, eventType, actorID string, metadata map[string]any) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Record(ctx, eventType, actorID, metadata); err != nil {
		h.logger.Warn("audit write failed", "event_type", eventType, "err", err)
	}
}

func newRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func hashPassword(raw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func verifyPassword(hash string, raw string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw))
}

// HashPassword is exported for the bootstrap admin seeding in main.
func HashPassword(raw string) (string, error) {
	return hashPassword(raw)
}
