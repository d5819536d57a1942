package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/idtoken"
)

func (a *app) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	credential := r.FormValue("credential")
	if credential == "" {
		http.Error(w, "missing credential", http.StatusBadRequest)
		return
	}

	payload, err := idtoken.Validate(r.Context(), credential, a.cfg.Server.ClientID)
	if err != nil {
		a.log.Warn("failed to validate token", zap.Error(err))
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	email, _ := payload.Claims["email"].(string)
	if email == "" {
		http.Error(w, "token has no email", http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"email":   email,
		"name":    payload.Claims["name"],
		"picture": payload.Claims["picture"],
		"token":   a.signEmail(email),
	})
}

func (a *app) signEmail(email string) string {
	h := hmac.New(sha256.New, []byte(a.cfg.Server.ClientSecret))
	h.Write([]byte(email))
	sig := base64.RawURLEncoding.EncodeToString(h.Sum(nil))
	return base64.RawURLEncoding.EncodeToString([]byte(email)) + "." + sig
}

func (a *app) authorize(r *http.Request) (string, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return "", false
	}
	emailBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", false
	}
	email := string(emailBytes)
	if !hmac.Equal([]byte(a.signEmail(email)), []byte(token)) {
		return "", false
	}
	return email, true
}

func (a *app) isAdmin(email string) bool {
	return slices.ContainsFunc(strings.Split(a.cfg.Server.Admins, ","), func(s string) bool {
		return strings.TrimSpace(s) == email
	})
}

func (a *app) requireAdmin(w http.ResponseWriter, r *http.Request) (string, bool) {
	email, ok := a.authorize(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", false
	}
	if !a.isAdmin(email) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return "", false
	}
	return email, true
}

func (a *app) isRoundAdmin(email string, roundID int64) (bool, error) {
	var exists bool
	err := a.db.QueryRow("SELECT EXISTS(SELECT 1 FROM round_admins WHERE round_id = $1 AND email = $2)", roundID, email).Scan(&exists)
	return exists, err
}

func roundIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	roundID, err := strconv.ParseInt(r.PathValue("roundID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid round ID", http.StatusBadRequest)
		return 0, false
	}
	return roundID, true
}

func (a *app) requireRoundAdmin(w http.ResponseWriter, r *http.Request) (string, int64, bool) {
	email, ok := a.authorize(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", 0, false
	}
	roundID, ok := roundIDParam(w, r)
	if !ok {
		return "", 0, false
	}
	if a.isAdmin(email) {
		return email, roundID, true
	}
	admin, err := a.isRoundAdmin(email, roundID)
	if err != nil {
		a.log.Error("checking round admin", zap.Int64("round", roundID), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return "", 0, false
	}
	if !admin {
		http.Error(w, "forbidden", http.StatusForbidden)
		return "", 0, false
	}
	return email, roundID, true
}

// roundRole is "admin" for global and round admins and "student" for anyone
// whose email appears in the round's preference table.
func (a *app) roundRole(email string, roundID int64) (string, []int64, error) {
	if a.isAdmin(email) {
		return "admin", nil, nil
	}
	admin, err := a.isRoundAdmin(email, roundID)
	if err != nil {
		return "", nil, err
	}
	if admin {
		return "admin", nil, nil
	}
	rows, err := a.db.Query("SELECT id FROM students WHERE round_id = $1 AND lower(email) = lower($2) ORDER BY position", roundID, email)
	if err != nil {
		return "", nil, err
	}
	defer rows.Close()
	var studentIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return "", nil, err
		}
		studentIDs = append(studentIDs, id)
	}
	if err := rows.Err(); err != nil {
		return "", nil, err
	}
	if len(studentIDs) > 0 {
		return "student", studentIDs, nil
	}
	return "", nil, nil
}

func (a *app) requireRoundMember(w http.ResponseWriter, r *http.Request) (string, int64, string, []int64, bool) {
	email, ok := a.authorize(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", 0, "", nil, false
	}
	roundID, ok := roundIDParam(w, r)
	if !ok {
		return "", 0, "", nil, false
	}
	role, studentIDs, err := a.roundRole(email, roundID)
	if err != nil {
		a.log.Error("resolving round role", zap.Int64("round", roundID), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return "", 0, "", nil, false
	}
	if role == "" {
		http.Error(w, "forbidden", http.StatusForbidden)
		return "", 0, "", nil, false
	}
	return email, roundID, role, studentIDs, true
}

func (a *app) handleAdminCheck(w http.ResponseWriter, r *http.Request) {
	email, ok := a.authorize(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"admin": a.isAdmin(email)})
}
