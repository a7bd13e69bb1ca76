package api

import (
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/parleychat/parley/internal/config"
	"github.com/parleychat/parley/internal/database"
	"github.com/parleychat/parley/internal/stats"
	"github.com/parleychat/parley/internal/testutil"
	"github.com/parleychat/parley/internal/types"
	"github.com/stretchr/testify/assert"
)

func Test_serveWs(t *testing.T) {
	mockUser := database.User{
		Id:           1,
		Username:     "testuser",
		EmailAddress: "testuser@example.com",
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	cfg := &config.Config{SigningKey: []byte("test-signing-key")}

	t.Run("upgrades an authenticated connection", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		defer mockRepo.AssertExpectations(t)

		mockRepo.On("GetAccountById", mockUser.Id).Return(mockUser, nil).Once()

		cs := newTestChatServer(t)
		app := NewParleyApp(http.NewServeMux(), testutil.TestLogger(t), cs, nil, mockRepo, newTestStats(), cfg)

		srv := httptest.NewServer(http.HandlerFunc(app.serveWs))
		defer srv.Close()

		token, err := app.createJwtForSession(types.User{Id: mockUser.Id}, time.Hour)
		assert.NoError(t, err, "failed to create session token")

		header := http.Header{}
		header.Add("Cookie", tokenCookieKey+"="+token)

		wsUrl := "ws" + strings.TrimPrefix(srv.URL, "http")
		conn, resp, err := websocket.DefaultDialer.Dial(wsUrl, header)
		assert.NoErrorf(t, err, "failed to dial websocket: %v", err)
		defer conn.Close()

		assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode, "expected connection upgrade")
	})

	t.Run("accepts a bearer token", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		defer mockRepo.AssertExpectations(t)

		mockRepo.On("GetAccountById", mockUser.Id).Return(mockUser, nil).Once()

		cs := newTestChatServer(t)
		app := NewParleyApp(http.NewServeMux(), testutil.TestLogger(t), cs, nil, mockRepo, newTestStats(), cfg)

		srv := httptest.NewServer(http.HandlerFunc(app.serveWs))
		defer srv.Close()

		token, err := app.createJwtForSession(types.User{Id: mockUser.Id}, time.Hour)
		assert.NoError(t, err, "failed to create session token")

		header := http.Header{}
		header.Set("Authorization", "Bearer "+token)

		wsUrl := "ws" + strings.TrimPrefix(srv.URL, "http")
		conn, resp, err := websocket.DefaultDialer.Dial(wsUrl, header)
		assert.NoErrorf(t, err, "failed to dial websocket: %v", err)
		defer conn.Close()

		assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode, "expected connection upgrade")
	})

	t.Run("upgrades devtools connections without credentials", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		defer mockRepo.AssertExpectations(t)

		app := NewParleyApp(http.NewServeMux(), testutil.TestLogger(t), nil, nil, mockRepo, newTestStats(), cfg)

		srv := httptest.NewServer(http.HandlerFunc(app.serveWs))
		defer srv.Close()

		dialer := websocket.Dialer{Subprotocols: []string{devSubprotocol}}

		wsUrl := "ws" + strings.TrimPrefix(srv.URL, "http")
		conn, resp, err := dialer.Dial(wsUrl, nil)
		assert.NoErrorf(t, err, "failed to dial websocket: %v", err)
		defer conn.Close()

		assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode, "expected connection upgrade")
		assert.Equal(t, devSubprotocol, conn.Subprotocol(), "expected devtools subprotocol to be negotiated")

		// Frames are accepted and dropped.
		err = conn.WriteMessage(websocket.TextMessage, []byte("probe"))
		assert.NoError(t, err, "expected devtools socket to accept frames")
	})

	rejections := []struct {
		name        string
		token       string
		uid         string
		mockUser    database.User
		mockErr     error
		expectedErr *ApiError
	}{
		{
			name:        "rejects a missing token",
			expectedErr: NewUnauthorizedError(),
		},
		{
			name:        "rejects an invalid token",
			token:       "invalid-token",
			expectedErr: NewUnauthorizedError(),
		},
		{
			name:        "rejects a uid mismatch",
			token:       "valid",
			uid:         "999",
			expectedErr: NewUnauthorizedError(),
		},
		{
			name:        "rejects an unknown account",
			token:       "valid",
			mockErr:     sql.ErrNoRows,
			expectedErr: NewNotFoundError(),
		},
		{
			name:        "fails with db error",
			token:       "valid",
			mockErr:     errors.New("db error"),
			expectedErr: NewInternalServerError(nil),
		},
	}

	for _, tc := range rejections {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockChatRepository{}
			defer mockRepo.AssertExpectations(t)

			if tc.mockUser != (database.User{}) || tc.mockErr != nil {
				mockRepo.On("GetAccountById", mockUser.Id).Return(tc.mockUser, tc.mockErr).Once()
			}

			// Every rejection before the upgrade must be counted.
			su := &stats.MockStatsUpdater{}
			defer su.AssertExpectations(t)
			su.On("RegisterMetric", "TotalHandshakeRejections").Return().Once()
			su.On("Incr", "TotalHandshakeRejections").Return().Once()

			app := NewParleyApp(http.NewServeMux(), testutil.TestLogger(t), nil, nil, mockRepo, su, cfg)

			target := "/ws"
			if tc.uid != "" {
				target += "?uid=" + tc.uid
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)

			if tc.token == "valid" {
				token, err := app.createJwtForSession(types.User{Id: mockUser.Id}, time.Hour)
				assert.NoError(t, err, "failed to create session token")
				req.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: token})
			} else if tc.token != "" {
				req.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: tc.token})
			}

			rr := httptest.NewRecorder()
			app.serveWs(rr, req)

			assert.Equal(t, tc.expectedErr.StatusCode, rr.Code, "expected status code to match")
			assert.Equal(t, *tc.expectedErr, decodeApiError(t, rr), "expected ApiError response")
		})
	}
}

func Test_checkOrigin(t *testing.T) {
	app := &ParleyApp{allowedOrigins: []string{"http://localhost:3000"}}

	tcases := []struct {
		name     string
		origin   string
		expected bool
	}{
		{
			name:     "allows requests without an origin header",
			origin:   "",
			expected: true,
		},
		{
			name:     "allows an allowed origin",
			origin:   "http://localhost:3000",
			expected: true,
		},
		{
			name:     "rejects an unknown origin",
			origin:   "http://evil.example.com",
			expected: false,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}

			assert.Equal(t, tc.expected, app.checkOrigin(req))
		})
	}
}
