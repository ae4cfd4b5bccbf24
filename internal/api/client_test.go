package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejusbharadwaj/qustodio-bridge/internal/models"
)

const (
	testToken    = "test-token"
	testUsername = "parent@example.com"
	testPassword = "hunter2"
	testClientID = "test-client-id"
	testSecret   = "test-client-secret"
)

// fakeAPI emulates the upstream service. Zero-valued status fields mean
// 200 with the default dataset: one account (id 1000, uid "acc-uid"),
// two devices (id 2 flagged for unauthorized removal) and two profiles
// (Alice online on device 1, Bob offline with device 2).
type fakeAPI struct {
	mu            sync.Mutex
	authRequests  int
	rulesRequests int

	loginStatus    int
	loginBody      string
	accountStatus  int
	devicesStatus  int
	profilesStatus int
	profilesBody   string
	rulesStatus    int
	rulesBody      string
	summaryStatus  int
	summaryBody    string

	lastLoginVals url.Values
	lastHeaders   http.Header
}

func (f *fakeAPI) authCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authRequests
}

func (f *fakeAPI) rulesCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rulesRequests
}

const defaultProfilesBody = `[
  {
    "id": 2001, "uid": "p-2001", "name": "Alice", "device_ids": [1],
    "status": {
      "is_online": true,
      "lastseen": "2026-08-31T10:00:00Z",
      "location": {"device": 1, "latitude": 47.1, "longitude": 8.2, "accuracy": 12.5}
    }
  },
  {
    "id": 2002, "uid": "p-2002", "name": "Bob", "device_ids": [2],
    "status": {"is_online": false, "location": {}}
  }
]`

const defaultDevicesBody = `[
  {"id": 1, "name": "Kid Phone", "alerts": {"unauthorized_remove": false}},
  {"id": 2, "name": "Kid Tablet", "alerts": {"unauthorized_remove": true}}
]`

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	path := r.URL.Path

	switch {
	case path == "/oauth2/access_token":
		f.authRequests++
		r.ParseForm()
		f.lastLoginVals = r.PostForm
		f.lastHeaders = r.Header
		if f.loginStatus != 0 && f.loginStatus != http.StatusOK {
			w.WriteHeader(f.loginStatus)
			return
		}
		body := f.loginBody
		if body == "" {
			body = `{"access_token": "` + testToken + `", "expires_in": 3600}`
		}
		io.WriteString(w, body)

	case path == "/accounts/me":
		f.lastHeaders = r.Header
		if f.accountStatus != 0 && f.accountStatus != http.StatusOK {
			w.WriteHeader(f.accountStatus)
			return
		}
		io.WriteString(w, `{"id": 1000, "uid": "acc-uid"}`)

	case strings.HasSuffix(path, "/devices"):
		if f.devicesStatus != 0 && f.devicesStatus != http.StatusOK {
			w.WriteHeader(f.devicesStatus)
			return
		}
		io.WriteString(w, defaultDevicesBody)

	case strings.HasSuffix(path, "/rules"):
		f.rulesRequests++
		if f.rulesStatus != 0 && f.rulesStatus != http.StatusOK {
			w.WriteHeader(f.rulesStatus)
			return
		}
		body := f.rulesBody
		if body == "" {
			body = `{"time_restrictions": {"quotas": {"` + dayCode(time.Now()) + `": 120}}}`
		}
		io.WriteString(w, body)

	case strings.HasSuffix(path, "/summary_hourly"):
		if f.summaryStatus != 0 && f.summaryStatus != http.StatusOK {
			w.WriteHeader(f.summaryStatus)
			return
		}
		body := f.summaryBody
		if body == "" {
			body = `[{"screen_time_seconds": 1800}, {"screen_time_seconds": 900}]`
		}
		io.WriteString(w, body)

	case strings.HasSuffix(path, "/profiles/"):
		if f.profilesStatus != 0 && f.profilesStatus != http.StatusOK {
			w.WriteHeader(f.profilesStatus)
			return
		}
		body := f.profilesBody
		if body == "" {
			body = defaultProfilesBody
		}
		io.WriteString(w, body)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestClient(t *testing.T, fake *fakeAPI, cacheRules bool) (*Client, *httptest.Server) {
	t.Helper()

	ts := httptest.NewServer(fake)
	t.Cleanup(ts.Close)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	client := NewClient(Config{
		BaseURL:        ts.URL,
		SummaryBaseURL: ts.URL,
		Username:       testUsername,
		Password:       testPassword,
		ClientID:       testClientID,
		ClientSecret:   testSecret,
		RequestRate:    1000,
		RequestBurst:   1000,
		CacheRules:     cacheRules,
	}, logger)

	return client, ts
}

func TestDayCode(t *testing.T) {
	tests := []struct {
		date time.Time
		want string
	}{
		{time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC), "mon"},
		{time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC), "tue"},
		{time.Date(2026, 9, 4, 12, 0, 0, 0, time.UTC), "fri"},
		{time.Date(2026, 9, 5, 12, 0, 0, 0, time.UTC), "sat"},
		{time.Date(2026, 9, 6, 12, 0, 0, 0, time.UTC), "sun"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, dayCode(tt.date))
	}
}

func TestLogin(t *testing.T) {
	tests := []struct {
		name        string
		loginStatus int
		loginBody   string
		want        models.LoginResult
		wantToken   bool
	}{
		{
			name:      "success",
			loginBody: `{"access_token": "test-token", "expires_in": 7200}`,
			want:      models.LoginOK,
			wantToken: true,
		},
		{
			name:      "success without expires_in defaults lifetime",
			loginBody: `{"access_token": "test-token"}`,
			want:      models.LoginOK,
			wantToken: true,
		},
		{
			name:        "unauthorized",
			loginStatus: http.StatusUnauthorized,
			want:        models.LoginUnauthorized,
		},
		{
			name:        "server error",
			loginStatus: http.StatusInternalServerError,
			want:        models.LoginError,
		},
		{
			name:      "missing token field",
			loginBody: `{"token_type": "bearer"}`,
			want:      models.LoginError,
		},
		{
			name:      "malformed body",
			loginBody: `not json`,
			want:      models.LoginError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeAPI{loginStatus: tt.loginStatus, loginBody: tt.loginBody}
			client, _ := newTestClient(t, fake, false)

			result := client.Login(context.Background())

			assert.Equal(t, tt.want, result)
			if tt.wantToken {
				assert.Equal(t, testToken, client.accessToken)
				assert.True(t, client.tokenExpiry.After(time.Now()))
			} else {
				assert.Empty(t, client.accessToken, "failed login must not cache a token")
			}
		})
	}
}

func TestLoginTransportError(t *testing.T) {
	fake := &fakeAPI{}
	client, ts := newTestClient(t, fake, false)
	ts.Close()

	assert.Equal(t, models.LoginError, client.Login(context.Background()))
}

func TestLoginCancelledContext(t *testing.T) {
	fake := &fakeAPI{}
	client, _ := newTestClient(t, fake, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, models.LoginError, client.Login(ctx))
	assert.Empty(t, client.accessToken)
}

func TestLoginCachedTokenSkipsNetwork(t *testing.T) {
	fake := &fakeAPI{}
	client, _ := newTestClient(t, fake, false)

	client.accessToken = testToken
	client.tokenExpiry = time.Now().Add(30 * time.Minute)

	assert.Equal(t, models.LoginOK, client.Login(context.Background()))
	assert.Equal(t, 0, fake.authCount(), "unexpired token must not trigger an auth request")
}

func TestLoginExpiredTokenReauthenticates(t *testing.T) {
	fake := &fakeAPI{}
	client, _ := newTestClient(t, fake, false)

	client.accessToken = "stale-token"
	client.tokenExpiry = time.Now().Add(-time.Second)

	assert.Equal(t, models.LoginOK, client.Login(context.Background()))
	assert.Equal(t, 1, fake.authCount())
	assert.Equal(t, testToken, client.accessToken)
}

func TestLoginSendsCredentials(t *testing.T) {
	fake := &fakeAPI{}
	client, _ := newTestClient(t, fake, false)

	require.Equal(t, models.LoginOK, client.Login(context.Background()))

	form := fake.lastLoginVals
	assert.Equal(t, "password", form.Get("grant_type"))
	assert.Equal(t, testUsername, form.Get("username"))
	assert.Equal(t, testPassword, form.Get("password"))
	assert.Equal(t, testClientID, form.Get("client_id"))
	assert.Equal(t, testSecret, form.Get("client_secret"))
	assert.Equal(t, "Qustodio/2.0.0 (Android)", fake.lastHeaders.Get("User-Agent"))
}

func TestGetDataSuccess(t *testing.T) {
	fake := &fakeAPI{}
	client, _ := newTestClient(t, fake, false)

	data, err := client.GetData(context.Background())
	require.NoError(t, err)
	require.Len(t, data, 2)

	alice := data[2001]
	assert.Equal(t, "Alice", alice.Name)
	assert.Equal(t, "p-2001", alice.UID)
	assert.True(t, alice.IsOnline)
	require.NotNil(t, alice.CurrentDevice)
	assert.Equal(t, "Kid Phone", *alice.CurrentDevice)
	require.NotNil(t, alice.Latitude)
	assert.InDelta(t, 47.1, *alice.Latitude, 0.001)
	require.NotNil(t, alice.Longitude)
	assert.InDelta(t, 8.2, *alice.Longitude, 0.001)
	assert.InDelta(t, 12.5, alice.Accuracy, 0.001)
	assert.Equal(t, "2026-08-31T10:00:00Z", alice.LastSeen)
	assert.Equal(t, 120, alice.QuotaMinutes)
	assert.InDelta(t, 45.0, alice.ScreenTimeMinutes, 0.001)
	assert.False(t, alice.UnauthorizedRemove)
	assert.Nil(t, alice.DeviceTampered)

	bob := data[2002]
	assert.Equal(t, "Bob", bob.Name)
	assert.False(t, bob.IsOnline)
	assert.Nil(t, bob.CurrentDevice, "offline profile has no current device")
	assert.True(t, bob.UnauthorizedRemove)
	require.NotNil(t, bob.DeviceTampered)
	assert.Equal(t, "Kid Tablet", *bob.DeviceTampered)
}

func TestGetDataScreenTimeRounding(t *testing.T) {
	fake := &fakeAPI{
		summaryBody: `[{"screen_time_seconds": 2713}]`,
	}
	client, _ := newTestClient(t, fake, false)

	data, err := client.GetData(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 45.2, data[2001].ScreenTimeMinutes, 0.001)
}

func TestGetDataQuotaMissingDayDefaultsToZero(t *testing.T) {
	fake := &fakeAPI{
		rulesBody: `{"time_restrictions": {"quotas": {}}}`,
	}
	client, _ := newTestClient(t, fake, false)

	data, err := client.GetData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, data[2001].QuotaMinutes)
}

func TestGetDataLoginFailureAbortsCycle(t *testing.T) {
	fake := &fakeAPI{loginStatus: http.StatusUnauthorized}
	client, _ := newTestClient(t, fake, false)

	data, err := client.GetData(context.Background())
	assert.ErrorIs(t, err, ErrLoginFailed)
	assert.Empty(t, data)
}

func TestGetDataAccountFailureAbortsCycle(t *testing.T) {
	fake := &fakeAPI{accountStatus: http.StatusInternalServerError}
	client, _ := newTestClient(t, fake, false)

	data, err := client.GetData(context.Background())
	assert.ErrorIs(t, err, ErrAccountFetch)
	assert.Empty(t, data)
}

func TestGetDataProfilesFailureAbortsCycle(t *testing.T) {
	fake := &fakeAPI{profilesStatus: http.StatusBadGateway}
	client, _ := newTestClient(t, fake, false)

	data, err := client.GetData(context.Background())
	assert.ErrorIs(t, err, ErrProfilesFetch)
	assert.Empty(t, data)
}

func TestGetDataNoProfilesIsNotAnError(t *testing.T) {
	fake := &fakeAPI{profilesBody: `[]`}
	client, _ := newTestClient(t, fake, false)

	data, err := client.GetData(context.Background())
	require.NoError(t, err)
	assert.Empty(t, data)
}

// Optional sub-fetch failures degrade fields to defaults but never drop
// a profile from the snapshot.
func TestGetDataPartialFailures(t *testing.T) {
	tests := []struct {
		name string
		fake *fakeAPI
	}{
		{
			name: "devices, rules and summary all fail",
			fake: &fakeAPI{
				devicesStatus: http.StatusInternalServerError,
				rulesStatus:   http.StatusNotFound,
				summaryStatus: http.StatusInternalServerError,
			},
		},
		{
			name: "profile without devices, rules 404, summary 500",
			fake: &fakeAPI{
				profilesBody: `[{"id": 2001, "uid": "p-2001", "name": "Alice", "device_ids": [],
					"status": {"is_online": false, "location": {}}}]`,
				rulesStatus:   http.StatusNotFound,
				summaryStatus: http.StatusInternalServerError,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, tt.fake, false)

			data, err := client.GetData(context.Background())
			require.NoError(t, err)
			require.NotEmpty(t, data)

			for _, snapshot := range data {
				assert.Equal(t, 0, snapshot.QuotaMinutes)
				assert.InDelta(t, 0, snapshot.ScreenTimeMinutes, 0.001)
				assert.False(t, snapshot.UnauthorizedRemove)
				assert.Nil(t, snapshot.DeviceTampered)
				assert.Nil(t, snapshot.CurrentDevice)
			}
		})
	}
}

func TestGetDataSendsAuthHeaders(t *testing.T) {
	fake := &fakeAPI{}
	client, _ := newTestClient(t, fake, false)

	_, err := client.GetData(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Bearer "+testToken, fake.lastHeaders.Get("Authorization"))
	assert.Equal(t, "application/json", fake.lastHeaders.Get("Accept"))
	assert.Equal(t, "application/json", fake.lastHeaders.Get("Content-Type"))
}

func TestGetDataResetsAccountState(t *testing.T) {
	fake := &fakeAPI{}
	client, _ := newTestClient(t, fake, false)

	_, err := client.GetData(context.Background())
	require.NoError(t, err)
	assert.Zero(t, client.accountID)
	assert.Empty(t, client.accountUID)

	fake.profilesStatus = http.StatusInternalServerError
	_, err = client.GetData(context.Background())
	require.Error(t, err)
	assert.Zero(t, client.accountID)
	assert.Empty(t, client.accountUID)
}

func TestRulesCache(t *testing.T) {
	t.Run("enabled caches per profile and day", func(t *testing.T) {
		fake := &fakeAPI{}
		client, _ := newTestClient(t, fake, true)

		_, err := client.GetData(context.Background())
		require.NoError(t, err)
		_, err = client.GetData(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 2, fake.rulesCount(), "second cycle should hit the cache")
	})

	t.Run("disabled fetches every cycle", func(t *testing.T) {
		fake := &fakeAPI{}
		client, _ := newTestClient(t, fake, false)

		_, err := client.GetData(context.Background())
		require.NoError(t, err)
		_, err = client.GetData(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 4, fake.rulesCount())
	})

	t.Run("failures are not cached", func(t *testing.T) {
		fake := &fakeAPI{rulesStatus: http.StatusNotFound}
		client, _ := newTestClient(t, fake, true)

		_, err := client.GetData(context.Background())
		require.NoError(t, err)

		fake.mu.Lock()
		fake.rulesStatus = 0
		fake.mu.Unlock()

		data, err := client.GetData(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 120, data[2001].QuotaMinutes)
	})
}

func TestGetDataReusesUnexpiredToken(t *testing.T) {
	fake := &fakeAPI{}
	client, _ := newTestClient(t, fake, false)

	_, err := client.GetData(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, fake.authCount())

	_, err = client.GetData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fake.authCount(), "token from first cycle is still valid")

	// Simulate the token aging past its lifetime.
	client.tokenExpiry = time.Now().Add(-time.Minute)

	_, err = client.GetData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, fake.authCount())
}
