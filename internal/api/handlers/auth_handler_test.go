package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/markdave123-py/Indexa/internal/models"
)

func TestSignupIssuesToken(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	db := &stubDB{}
	h := NewAuthHandler(db)

	body := strings.NewReader(`{"first_name":"Ada","email":"ada@example.com","password":"hunter2"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/signup", body)
	rec := httptest.NewRecorder()
	h.Signup(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotEmpty(t, resp["token"])

	require.Len(t, db.createdUsers, 1)
	user := db.createdUsers[0]
	assert.Equal(t, "ada@example.com", user.Email)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("hunter2")))

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(resp["token"], claims, func(*jwt.Token) (interface{}, error) {
		return []byte("test-secret"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims["user_id"])
}

func TestSignupRejectsMissingFields(t *testing.T) {
	h := NewAuthHandler(&stubDB{})

	req := httptest.NewRequest(http.MethodPost, "/api/signup", strings.NewReader(`{"email":"ada@example.com"}`))
	rec := httptest.NewRecorder()
	h.Signup(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSignupRejectsDuplicateEmail(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	db := &stubDB{users: map[string]*models.User{
		"ada@example.com": {ID: "u1", Email: "ada@example.com"},
	}}
	h := NewAuthHandler(db)

	body := strings.NewReader(`{"email":"ada@example.com","password":"hunter2"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/signup", body)
	rec := httptest.NewRecorder()
	h.Signup(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLoginChecksPassword(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	db := &stubDB{users: map[string]*models.User{
		"ada@example.com": {ID: "u1", Email: "ada@example.com", PasswordHash: string(hash)},
	}}
	h := NewAuthHandler(db)

	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"email":"ada@example.com","password":"hunter2"}`))
	rec := httptest.NewRecorder()
	h.Login(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEmpty(t, resp["token"])
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	db := &stubDB{users: map[string]*models.User{
		"ada@example.com": {ID: "u1", Email: "ada@example.com", PasswordHash: string(hash)},
	}}
	h := NewAuthHandler(db)

	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"email":"ada@example.com","password":"wrong"}`))
	rec := httptest.NewRecorder()
	h.Login(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginRejectsUnknownEmail(t *testing.T) {
	h := NewAuthHandler(&stubDB{})

	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"email":"nobody@example.com","password":"x"}`))
	rec := httptest.NewRecorder()
	h.Login(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
