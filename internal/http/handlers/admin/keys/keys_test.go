package keys

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/media-relay/internal/models"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Generate(ctx context.Context, durationDays int, notes string) (models.AccessKey, error) {
	args := m.Called(ctx, durationDays, notes)
	return args.Get(0).(models.AccessKey), args.Error(1)
}

func (m *MockService) List(ctx context.Context) ([]models.AccessKey, error) {
	args := m.Called(ctx)
	list, _ := args.Get(0).([]models.AccessKey)
	return list, args.Error(1)
}

func (m *MockService) Delete(ctx context.Context, token string) error {
	return m.Called(ctx, token).Error(0)
}

func newRouter(svc *MockService) http.Handler {
	h := New(slog.New(slog.NewTextHandler(io.Discard, nil)), svc)
	r := chi.NewRouter()
	r.Post("/keys", h.Create)
	r.Get("/keys", h.List)
	r.Delete("/keys/{token}", h.Delete)
	return r
}

func TestCreate(t *testing.T) {
	svc := new(MockService)
	svc.On("Generate", mock.Anything, 30, "for bob").
		Return(models.AccessKey{Token: "abc", DurationDays: 30, Notes: "for bob", CreatedAt: time.Now()}, nil).Once()

	rr := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/keys",
		strings.NewReader(`{"duration_days":30,"notes":"for bob"}`)))

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Contains(t, rr.Body.String(), `"token":"abc"`)
	svc.AssertExpectations(t)
}

func TestCreate_Invalid(t *testing.T) {
	svc := new(MockService)

	rr := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/keys",
		strings.NewReader(`{"duration_days":100000}`)))
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/keys", strings.NewReader(`[`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	svc.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}

func TestList(t *testing.T) {
	svc := new(MockService)
	svc.On("List", mock.Anything).Return(nil, nil).Once()

	rr := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/keys", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"OK","data":[]}`, rr.Body.String())
}

func TestDelete(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "deleted", wantStatus: http.StatusOK},
		{name: "not found", err: models.ErrKeyNotFound, wantStatus: http.StatusNotFound},
		{name: "store error", err: errors.New("db down"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			svc.On("Delete", mock.Anything, "abc").Return(tt.err).Once()

			rr := httptest.NewRecorder()
			newRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/keys/abc", nil))

			assert.Equal(t, tt.wantStatus, rr.Code)
			svc.AssertExpectations(t)
		})
	}
}
