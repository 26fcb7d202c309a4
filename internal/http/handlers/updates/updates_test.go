package updates

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/media-relay/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/media-relay/internal/models"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(routingKey string, message any) error {
	args := m.Called(routingKey, message)
	return args.Error(0)
}

const textUpdate = `{"update_id":5,"message":{"message_id":1,"from":{"id":42,"username":"alice","first_name":"Alice"},"chat":{"id":4242},"text":"https://terabox.com/s/1abc"}}`

func TestHandler(t *testing.T) {
	want := models.Update{
		UpdateID:  5,
		ChatID:    4242,
		UserID:    42,
		Username:  "alice",
		FirstName: "Alice",
		Text:      "https://terabox.com/s/1abc",
	}

	tests := []struct {
		name       string
		secret     string
		body       string
		setup      func(*MockPublisher)
		wantStatus int
	}{
		{
			name:   "enqueued",
			secret: "s3cret",
			body:   textUpdate,
			setup: func(p *MockPublisher) {
				p.On("Publish", rabbitmq.RouteUpdates, want).Return(nil).Once()
			},
			wantStatus: http.StatusOK,
		},
		{
			name:       "wrong secret",
			secret:     "nope",
			body:       textUpdate,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "malformed body is dropped",
			secret:     "s3cret",
			body:       "{",
			wantStatus: http.StatusOK,
		},
		{
			name:       "non-text update is ignored",
			secret:     "s3cret",
			body:       `{"update_id":6,"edited_message":{}}`,
			wantStatus: http.StatusOK,
		},
		{
			name:   "broker unavailable",
			secret: "s3cret",
			body:   textUpdate,
			setup: func(p *MockPublisher) {
				p.On("Publish", rabbitmq.RouteUpdates, want).Return(errors.New("channel closed")).Once()
			},
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := new(MockPublisher)
			if tt.setup != nil {
				tt.setup(pub)
			}
			h := New(slog.New(slog.NewTextHandler(io.Discard, nil)), pub, "s3cret")

			req := httptest.NewRequest(http.MethodPost, "/api/v1/updates", strings.NewReader(tt.body))
			req.Header.Set(SecretHeader, tt.secret)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			pub.AssertExpectations(t)
			if tt.setup == nil {
				pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
			}
		})
	}
}
