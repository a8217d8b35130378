package handlers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/temcen/cinerank/internal/services"
	"github.com/temcen/cinerank/pkg/models"
)

type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) Record(ctx context.Context, req *models.RecordInteractionRequest) (*models.Interaction, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Interaction), args.Error(1)
}

func postJSON(router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestInteractionHandler_Record(t *testing.T) {
	gin.SetMode(gin.TestMode)
	userID := uuid.New()

	tests := []struct {
		name           string
		body           string
		setup          func(*MockRecorder)
		expectedStatus int
	}{
		{
			name: "rating is recorded",
			body: fmt.Sprintf(`{"user_id":%q,"movie_id":550,"interaction_type":"rating","value":8.5}`, userID),
			setup: func(m *MockRecorder) {
				m.On("Record", mock.Anything, mock.MatchedBy(func(req *models.RecordInteractionRequest) bool {
					return req.UserID == userID && req.MovieID == 550 && *req.Value == 8.5
				})).Return(&models.Interaction{ID: uuid.New(), UserID: userID, MovieID: 550, Timestamp: time.Now()}, nil)
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "malformed JSON",
			body:           `{"user_id":`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "unknown interaction type",
			body:           fmt.Sprintf(`{"user_id":%q,"movie_id":550,"interaction_type":"share"}`, userID),
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "missing movie",
			body:           fmt.Sprintf(`{"user_id":%q,"interaction_type":"view"}`, userID),
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "rating above ten",
			body:           fmt.Sprintf(`{"user_id":%q,"movie_id":550,"interaction_type":"rating","value":11}`, userID),
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "service rejects the value",
			body: fmt.Sprintf(`{"user_id":%q,"movie_id":550,"interaction_type":"rating"}`, userID),
			setup: func(m *MockRecorder) {
				m.On("Record", mock.Anything, mock.Anything).
					Return(nil, fmt.Errorf("%w: %v", services.ErrInvalidParameter, models.ErrRatingValueRequired))
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "store failure",
			body: fmt.Sprintf(`{"user_id":%q,"movie_id":550,"interaction_type":"view"}`, userID),
			setup: func(m *MockRecorder) {
				m.On("Record", mock.Anything, mock.Anything).Return(nil, assert.AnError)
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := new(MockRecorder)
			if tt.setup != nil {
				tt.setup(recorder)
			}
			router := gin.New()
			router.POST("/api/v1/interactions", NewInteractionHandler(testLogger(), recorder).Record)

			w := postJSON(router, "/api/v1/interactions", tt.body)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.setup == nil {
				recorder.AssertNotCalled(t, "Record", mock.Anything, mock.Anything)
			} else {
				recorder.AssertExpectations(t)
			}
		})
	}
}
