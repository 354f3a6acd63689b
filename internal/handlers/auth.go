package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	mw "mindjournal/internal/middleware"
	"mindjournal/internal/models"
	"mindjournal/internal/services"
)

const userColumns = `id, email, email_blind_index, password_hash, display_name, is_anonymous, is_admin, created_at`

type AuthHandler struct {
	db     *sqlx.DB
	encSvc *services.EncryptionService
	auth   *mw.AuthMiddleware
	logger *zap.Logger
}

// NewAuthHandler builds the auth endpoints. encSvc may be nil, in which case
// emails are stored in the clear and looked up directly.
func NewAuthHandler(db *sqlx.DB, encSvc *services.EncryptionService, auth *mw.AuthMiddleware, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{db: db, encSvc: encSvc, auth: auth, logger: logger}
}

type credentials struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type tokenResponse struct {
	Token string  `json:"token"`
	User  UserDTO `json:"user"`
}

// sealEmail returns the stored email and its lookup key.
func (h *AuthHandler) sealEmail(email string) (stored, index string, err error) {
	email = services.NormalizeEmail(email)
	if h.encSvc == nil {
		return email, email, nil
	}
	u := models.User{Email: &email}
	if err := h.encSvc.EncryptUser(&u); err != nil {
		return "", "", err
	}
	return *u.Email, *u.EmailBlindIndex, nil
}

func (h *AuthHandler) emailIndex(email string) string {
	if h.encSvc == nil {
		return services.NormalizeEmail(email)
	}
	return h.encSvc.EmailBlindIndex(email)
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if services.NormalizeEmail(c.Email) == "" || c.Password == "" {
		http.Error(w, "email and password required", http.StatusBadRequest)
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(c.Password), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, "could not hash password", http.StatusInternalServerError)
		return
	}
	email, index, err := h.sealEmail(c.Email)
	if err != nil {
		h.logger.Error("encrypting email failed", zap.Error(err))
		http.Error(w, "could not encrypt user data", http.StatusInternalServerError)
		return
	}

	var displayName *string
	if c.DisplayName != "" {
		displayName = &c.DisplayName
	}
	var user models.User
	err = h.db.QueryRowx(`INSERT INTO users (id, email, email_blind_index, password_hash, display_name)
		VALUES ($1, $2, $3, $4, $5) RETURNING `+userColumns,
		uuid.NewString(), email, index, string(hashed), displayName).StructScan(&user)
	if err != nil {
		http.Error(w, "could not create user", http.StatusBadRequest)
		return
	}
	h.respondWithToken(w, http.StatusCreated, user)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if services.NormalizeEmail(c.Email) == "" || c.Password == "" {
		http.Error(w, "email and password required", http.StatusBadRequest)
		return
	}

	var user models.User
	err := h.db.Get(&user, `SELECT `+userColumns+` FROM users WHERE email_blind_index=$1`, h.emailIndex(c.Email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		h.logger.Error("loading user failed", zap.Error(err))
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if user.PasswordHash == nil || bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(c.Password)) != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	h.respondWithToken(w, http.StatusOK, user)
}

// Anonymous creates an account without credentials so the app can be used
// before signing up.
func (h *AuthHandler) Anonymous(w http.ResponseWriter, r *http.Request) {
	var user models.User
	err := h.db.QueryRowx(`INSERT INTO users (id, is_anonymous) VALUES ($1, true) RETURNING `+userColumns,
		uuid.NewString()).StructScan(&user)
	if err != nil {
		h.logger.Error("creating anonymous user failed", zap.Error(err))
		http.Error(w, "could not create user", http.StatusInternalServerError)
		return
	}
	h.respondWithToken(w, http.StatusCreated, user)
}

func (h *AuthHandler) respondWithToken(w http.ResponseWriter, status int, user models.User) {
	token, err := h.auth.IssueToken(user.ID)
	if err != nil {
		http.Error(w, "could not issue token", http.StatusInternalServerError)
		return
	}
	if h.encSvc != nil {
		if err := h.encSvc.DecryptUser(&user); err != nil {
			http.Error(w, "could not decrypt user data", http.StatusInternalServerError)
			return
		}
	}
	writeJSON(w, status, tokenResponse{Token: token, User: ToUserDTO(user)})
}
