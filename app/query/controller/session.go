package controller

import (
	"crypto/subtle"
	"net/http"
	"os"
	"time"

	"github.com/canopy-network/validatorx/pkg/utils"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	sessionCookie = "vx_session"
	sessionTTL    = 8 * time.Hour
)

// HandleAdminLogin exchanges the admin credentials for a session cookie.
func (c *Controller) HandleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if len(c.AdminHash) == 0 || len(c.JWTSecret) == 0 {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	userOK := subtle.ConstantTimeCompare([]byte(in.Username), []byte(c.AdminUser)) == 1
	// always pay for the bcrypt comparison so unknown users are not faster to reject
	passOK := utils.CheckPassword(c.AdminHash, in.Password)
	if !userOK || !passOK {
		c.App.Logger.Warn("Rejected admin login", zap.String("remote_addr", r.RemoteAddr))
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if err := c.IssueSession(w, in.Username); err != nil {
		c.App.Logger.Error("Failed to sign admin session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to issue session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "1"})
}

// HandleAdminLogout clears the session cookie.
func (c *Controller) HandleAdminLogout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
	w.WriteHeader(http.StatusNoContent)
}

// IssueSession sets a signed admin session cookie for username.
func (c *Controller) IssueSession(w http.ResponseWriter, username string) error {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  username,
		"role": "admin",
		"exp":  now.Add(sessionTTL).Unix(),
		"iat":  now.Unix(),
	})
	ss, err := token.SignedString(c.JWTSecret)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    ss,
		Path:     "/",
		HttpOnly: true,
		Secure:   os.Getenv("ENVIRONMENT") == "production",
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(sessionTTL.Seconds()),
	})
	return nil
}

// ValidateAdminSession checks for a session cookie signed with the session secret and carrying the admin role.
func (c *Controller) ValidateAdminSession(r *http.Request) bool {
	claims, ok := c.sessionClaims(r)
	if !ok {
		return false
	}
	role, _ := claims["role"].(string)
	return role == "admin"
}

func (c *Controller) sessionClaims(r *http.Request) (jwt.MapClaims, bool) {
	if len(c.JWTSecret) == 0 {
		return nil, false
	}
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return nil, false
	}
	tok, err := jwt.Parse(cookie.Value, func(t *jwt.Token) (any, error) { return c.JWTSecret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tok.Valid {
		return nil, false
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	return claims, ok
}

// currentUser names the caller of an authorized request. The API token is reported as "api-token".
func (c *Controller) currentUser(r *http.Request) string {
	if c.ValidateToken(r) {
		return "api-token"
	}
	if claims, ok := c.sessionClaims(r); ok {
		if sub, _ := claims["sub"].(string); sub != "" {
			return sub
		}
	}
	return "unknown"
}
