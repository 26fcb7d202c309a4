package login

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/magabrotheeeer/media-relay/internal/lib/jwt"
)

func TestHandler(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)
	maker := jwt.NewMaker("secret", time.Hour)
	h := New(slog.New(slog.NewTextHandler(io.Discard, nil)), maker, "root", string(hash))

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{name: "success", body: `{"username":"root","password":"correct horse"}`, wantStatus: http.StatusOK},
		{name: "wrong password", body: `{"username":"root","password":"battery"}`, wantStatus: http.StatusUnauthorized},
		{name: "wrong user", body: `{"username":"admin","password":"correct horse"}`, wantStatus: http.StatusUnauthorized},
		{name: "missing password", body: `{"username":"root"}`, wantStatus: http.StatusUnprocessableEntity},
		{name: "bad json", body: `{`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/admin/login", strings.NewReader(tt.body)))
			assert.Equal(t, tt.wantStatus, rr.Code)

			if tt.wantStatus != http.StatusOK {
				return
			}
			var resp struct {
				Data struct {
					Token string `json:"token"`
				} `json:"data"`
			}
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			claims, err := maker.ParseToken(resp.Data.Token)
			require.NoError(t, err)
			assert.Equal(t, "root", claims.Username)
			assert.Equal(t, jwt.RoleAdmin, claims.Role)
		})
	}
}
