package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/geocoder89/placehub/internal/auth"
	"github.com/geocoder89/placehub/internal/config"
	"github.com/geocoder89/placehub/internal/domain/user"
	"github.com/geocoder89/placehub/internal/http/handlers"
	"github.com/geocoder89/placehub/internal/repo"
	"github.com/geocoder89/placehub/internal/repo/postgres"
	"github.com/geocoder89/placehub/internal/security"
)

// in-memory refresh token store with the same transactional shape

type fakeRefreshStore struct {
	mu   sync.Mutex
	rows map[string]postgres.RefreshTokenRow
}

func newFakeRefreshStore() *fakeRefreshStore {
	return &fakeRefreshStore{rows: make(map[string]postgres.RefreshTokenRow)}
}

func (f *fakeRefreshStore) BeginTx(ctx context.Context) (repo.Tx, error) {
	return &fakeTx{}, nil
}

func (f *fakeRefreshStore) Create(ctx context.Context, tx repo.Tx, row postgres.RefreshTokenRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[row.ID] = row
	return nil
}

func (f *fakeRefreshStore) GetForUpdate(ctx context.Context, tx repo.Tx, id string) (postgres.RefreshTokenRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	row, ok := f.rows[id]
	if !ok {
		return postgres.RefreshTokenRow{}, postgres.ErrRefreshTokenNotFound
	}
	return row, nil
}

func (f *fakeRefreshStore) Revoke(ctx context.Context, tx repo.Tx, id string, replacedBy *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	row, ok := f.rows[id]
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	row.RevokedAt = &now
	row.ReplacedBy = replacedBy
	f.rows[id] = row
	return nil
}

type fakeUserStore struct {
	mu      sync.Mutex
	byEmail map[string]user.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{byEmail: make(map[string]user.User)}
}

func (f *fakeUserStore) GetByEmail(ctx context.Context, email string) (user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.byEmail[email]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return u, nil
}

func (f *fakeUserStore) Create(ctx context.Context, u user.User) (user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.byEmail[u.Email]; ok {
		return user.User{}, postgres.ErrEmailAlreadyUsed
	}
	u.PlaceIDs = []string{}
	f.byEmail[u.Email] = u
	return u, nil
}

func newAuthHandler(users *fakeUserStore, refresh *fakeRefreshStore) (*handlers.AuthHandler, *auth.Manager) {
	m := auth.NewManager("test-secret", time.Minute, time.Hour)

	h := handlers.NewAuthHandler(users, users, &fakeBlobs{}, m, refresh, config.Config{Env: "dev"}, discardLogger())

	return h, m
}

func signupForm(t *testing.T, name, email, password string) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	_ = mw.WriteField("name", name)
	_ = mw.WriteField("email", email)
	_ = mw.WriteField("password", password)
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	return body, mw.FormDataContentType()
}

func TestSignUpHandler(t *testing.T) {
	tests := []struct {
		name           string
		formName       string
		email          string
		password       string
		preExisting    bool
		wantStatusCode int
	}{
		{
			name:           "success",
			formName:       "Max Schwarz",
			email:          "max@example.com",
			password:       "supersecret1",
			wantStatusCode: http.StatusCreated,
		},
		{
			name:           "duplicate_email",
			formName:       "Max Schwarz",
			email:          "max@example.com",
			password:       "supersecret1",
			preExisting:    true,
			wantStatusCode: http.StatusUnprocessableEntity,
		},
		{
			name:           "short_password",
			formName:       "Max Schwarz",
			email:          "max@example.com",
			password:       "short",
			wantStatusCode: http.StatusUnprocessableEntity,
		},
		{
			name:           "bad_email",
			formName:       "Max Schwarz",
			email:          "not-an-email",
			password:       "supersecret1",
			wantStatusCode: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			users := newFakeUserStore()
			refresh := newFakeRefreshStore()

			if tt.preExisting {
				users.byEmail[tt.email] = user.User{ID: newUUID(), Email: tt.email}
			}

			h, m := newAuthHandler(users, refresh)
			r := setupRouter(http.MethodPost, "/auth/signup", h.SignUp)

			body, contentType := signupForm(t, tt.formName, tt.email, tt.password)

			req := httptest.NewRequest(http.MethodPost, "/auth/signup", body)
			req.Header.Set("Content-Type", contentType)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatusCode, w.Body.String())
			}

			if tt.wantStatusCode != http.StatusCreated {
				return
			}

			var resp struct {
				UserID      string `json:"userId"`
				Email       string `json:"email"`
				AccessToken string `json:"accessToken"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}

			claims, err := m.VerifyAccessToken(resp.AccessToken)
			if err != nil {
				t.Fatalf("issued access token does not verify: %v", err)
			}
			if claims.UserID != resp.UserID {
				t.Fatalf("token subject %q != response userId %q", claims.UserID, resp.UserID)
			}

			// a refresh token was persisted hashed, never raw
			if len(refresh.rows) != 1 {
				t.Fatalf("expected one stored refresh token, got %d", len(refresh.rows))
			}
			for _, row := range refresh.rows {
				if row.TokenHash == "" || strings.Count(row.TokenHash, ".") == 2 {
					t.Fatalf("refresh token stored raw or empty: %q", row.TokenHash)
				}
			}

			// password must be stored hashed
			stored := users.byEmail[tt.email]
			if stored.PasswordHash == tt.password {
				t.Fatalf("password stored in clear")
			}
			if err := security.CheckPassword(stored.PasswordHash, tt.password); err != nil {
				t.Fatalf("stored hash does not verify: %v", err)
			}
		})
	}
}

func TestLoginHandler(t *testing.T) {
	const password = "supersecret1"

	hash, err := security.HashPassword(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	seeded := user.User{
		ID:           newUUID(),
		Email:        "max@example.com",
		PasswordHash: hash,
		Role:         "user",
	}

	tests := []struct {
		name           string
		body           string
		wantStatusCode int
	}{
		{
			name:           "success",
			body:           `{"email": "max@example.com", "password": "` + password + `"}`,
			wantStatusCode: http.StatusOK,
		},
		{
			name:           "wrong_password",
			body:           `{"email": "max@example.com", "password": "wrong-password"}`,
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:           "unknown_email",
			body:           `{"email": "nobody@example.com", "password": "` + password + `"}`,
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:           "validation_error",
			body:           `{"email": "max@example.com"}`,
			wantStatusCode: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			users := newFakeUserStore()
			users.byEmail[seeded.Email] = seeded
			refresh := newFakeRefreshStore()

			h, _ := newAuthHandler(users, refresh)
			r := setupRouter(http.MethodPost, "/auth/login", h.Login)

			req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatusCode, w.Body.String())
			}
		})
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	users := newFakeUserStore()
	users.byEmail["max@example.com"] = user.User{ID: newUUID(), Email: "max@example.com"}
	refresh := newFakeRefreshStore()

	h, m := newAuthHandler(users, refresh)

	// issue a session via login
	hash, _ := security.HashPassword("supersecret1")
	u := users.byEmail["max@example.com"]
	u.PasswordHash = hash
	users.byEmail[u.Email] = u

	loginRouter := setupRouter(http.MethodPost, "/auth/login", h.Login)
	loginReq := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"max@example.com","password":"supersecret1"}`))
	loginReq.Header.Set("Content-Type", "application/json")
	loginW := httptest.NewRecorder()
	loginRouter.ServeHTTP(loginW, loginReq)

	if loginW.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", loginW.Code, loginW.Body.String())
	}

	var rawRefresh string
	for _, c := range loginW.Result().Cookies() {
		if c.Name == "refresh_token" {
			rawRefresh = c.Value
		}
	}
	if rawRefresh == "" {
		t.Fatalf("no refresh cookie issued")
	}

	oldClaims, err := m.VerifyRefreshToken(rawRefresh)
	if err != nil {
		t.Fatalf("issued refresh does not verify: %v", err)
	}

	refreshRouter := setupRouter(http.MethodPost, "/auth/refresh", h.Refresh)
	refreshReq := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	refreshReq.AddCookie(&http.Cookie{Name: "refresh_token", Value: rawRefresh})
	refreshW := httptest.NewRecorder()
	refreshRouter.ServeHTTP(refreshW, refreshReq)

	if refreshW.Code != http.StatusOK {
		t.Fatalf("refresh failed: %d %s", refreshW.Code, refreshW.Body.String())
	}

	// the old token row is revoked and chained to its replacement
	oldRow := refresh.rows[oldClaims.JTI]
	if oldRow.RevokedAt == nil {
		t.Fatalf("old refresh token not revoked after rotation")
	}
	if oldRow.ReplacedBy == nil || *oldRow.ReplacedBy == oldClaims.JTI {
		t.Fatalf("rotation chain missing: %+v", oldRow)
	}

	// replaying the old token must fail
	replayW := httptest.NewRecorder()
	replayReq := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	replayReq.AddCookie(&http.Cookie{Name: "refresh_token", Value: rawRefresh})
	refreshRouter.ServeHTTP(replayW, replayReq)

	if replayW.Code != http.StatusUnauthorized {
		t.Fatalf("replayed refresh token accepted: %d", replayW.Code)
	}
}

func TestLogoutRevokesAndClearsCookie(t *testing.T) {
	users := newFakeUserStore()
	refresh := newFakeRefreshStore()
	h, m := newAuthHandler(users, refresh)

	raw, jti, expiresAt, err := m.GenerateRefreshToken(newUUID(), "max@example.com", "user")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	refresh.rows[jti] = postgres.RefreshTokenRow{
		ID:        jti,
		TokenHash: m.HashRefreshToken(raw),
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}

	r := setupRouter(http.MethodPost, "/auth/logout", h.Logout)
	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: raw})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("got status %d, want 204", w.Code)
	}

	if refresh.rows[jti].RevokedAt == nil {
		t.Fatalf("token not revoked on logout")
	}

	cleared := false
	for _, c := range w.Result().Cookies() {
		if c.Name == "refresh_token" && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatalf("refresh cookie not cleared")
	}
}
