package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	mw "mindjournal/internal/middleware"
	"mindjournal/internal/models"
	"mindjournal/internal/services"
)

type UserHandler struct {
	db     *sqlx.DB
	encSvc *services.EncryptionService
	logger *zap.Logger
}

func NewUserHandler(db *sqlx.DB, encSvc *services.EncryptionService, logger *zap.Logger) *UserHandler {
	return &UserHandler{db: db, encSvc: encSvc, logger: logger}
}

// GetMe returns the current user's profile
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	var u models.User
	if err := h.db.Get(&u, `SELECT `+userColumns+` FROM users WHERE id=$1`, mw.UserID(r.Context())); err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if h.encSvc != nil {
		if err := h.encSvc.DecryptUser(&u); err != nil {
			http.Error(w, "could not decrypt user data", http.StatusInternalServerError)
			return
		}
	}
	writeJSON(w, http.StatusOK, ToUserDTO(u))
}

// UpdateMe updates the provided fields. Setting email and password together
// turns an anonymous account into a regular one.
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DisplayName *string `json:"display_name"`
		Email       *string `json:"email"`
		Password    *string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if (body.Email == nil) != (body.Password == nil) {
		http.Error(w, "email and password must be set together", http.StatusBadRequest)
		return
	}

	setClauses := []string{}
	args := []interface{}{}
	if body.DisplayName != nil {
		args = append(args, strings.TrimSpace(*body.DisplayName))
		setClauses = append(setClauses, fmt.Sprintf("display_name=$%d", len(args)))
	}
	if body.Email != nil {
		email := services.NormalizeEmail(*body.Email)
		if email == "" || *body.Password == "" {
			http.Error(w, "email and password required", http.StatusBadRequest)
			return
		}
		hashed, err := bcrypt.GenerateFromPassword([]byte(*body.Password), bcrypt.DefaultCost)
		if err != nil {
			http.Error(w, "could not hash password", http.StatusInternalServerError)
			return
		}
		stored, index := email, email
		if h.encSvc != nil {
			u := models.User{Email: &email}
			if err := h.encSvc.EncryptUser(&u); err != nil {
				http.Error(w, "could not encrypt email", http.StatusInternalServerError)
				return
			}
			stored, index = *u.Email, *u.EmailBlindIndex
		}
		args = append(args, stored, index, string(hashed))
		n := len(args)
		setClauses = append(setClauses,
			fmt.Sprintf("email=$%d", n-2),
			fmt.Sprintf("email_blind_index=$%d", n-1),
			fmt.Sprintf("password_hash=$%d", n),
			"is_anonymous=false")
	}
	if len(setClauses) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	args = append(args, mw.UserID(r.Context()))
	query := "UPDATE users SET " + strings.Join(setClauses, ", ") + fmt.Sprintf(" WHERE id=$%d", len(args))
	if _, err := h.db.ExecContext(r.Context(), query, args...); err != nil {
		h.logger.Warn("updating user failed", zap.Error(err))
		http.Error(w, "could not update", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
