// Package api implements the Qustodio API client: authentication with a
// cached token and the per-cycle snapshot fan-out across the account,
// devices, profiles, rules and hourly summary endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/tejusbharadwaj/qustodio-bridge/internal/models"
)

const (
	defaultBaseURL        = "https://api.qustodio.com/v1"
	defaultSummaryBaseURL = "https://api.qustodio.com/v2"
	defaultUserAgent      = "Qustodio/2.0.0 (Android)"

	requestTimeout       = 15 * time.Second
	defaultTokenLifetime = 3600 // seconds, when the login response omits expires_in
	rulesCacheSize       = 256
)

var (
	ErrRequest       = errors.New("error making API request")
	ErrStatus        = errors.New("unexpected status from API")
	ErrLoginFailed   = errors.New("login failed")
	ErrAccountFetch  = errors.New("account fetch failed")
	ErrProfilesFetch = errors.New("profile list fetch failed")
)

// The service keys weekday quotas by three-letter day codes, Monday first.
var dayCodes = [7]string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}

func dayCode(t time.Time) string {
	return dayCodes[(int(t.Weekday())+6)%7]
}

// Config holds the client settings. Zero values for URLs and the user
// agent fall back to the production service.
type Config struct {
	BaseURL        string
	SummaryBaseURL string
	Username       string
	Password       string
	ClientID       string
	ClientSecret   string
	UserAgent      string
	RequestRate    float64
	RequestBurst   int
	CacheRules     bool
}

// Client talks to the Qustodio API on behalf of one account.
//
// A Client is not safe for concurrent use: the scheduler serializes poll
// cycles, so at most one Login/GetData call is in flight at a time.
// Multiple Clients for different accounts are fully independent.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	rulesCache *lru.Cache
	logger     *logrus.Logger

	accessToken string
	tokenExpiry time.Time

	// Valid only within one GetData call; reset on return.
	accountID  int64
	accountUID string
}

// NewClient creates a client for the given account credentials.
func NewClient(cfg Config, logger *logrus.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.SummaryBaseURL == "" {
		cfg.SummaryBaseURL = defaultSummaryBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.RequestRate <= 0 {
		cfg.RequestRate = 5.0
	}
	if cfg.RequestBurst <= 0 {
		cfg.RequestBurst = 5
	}

	c := &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestRate), cfg.RequestBurst),
		logger:  logger,
	}

	if cfg.CacheRules {
		// lru.New only fails for a non-positive size.
		c.rulesCache, _ = lru.New(rulesCacheSize)
	}

	return c
}

// Login authenticates against the identity endpoint using the password
// grant. While a cached token is unexpired it returns LoginOK without a
// network call. The cached token is replaced only on success, so a
// failed or cancelled attempt never corrupts session state.
func (c *Client) Login(ctx context.Context) models.LoginResult {
	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return models.LoginOK
	}

	c.logger.Debug("Logging in to Qustodio API")

	form := url.Values{
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"grant_type":    {"password"},
		"username":      {c.cfg.Username},
		"password":      {c.cfg.Password},
	}

	if err := c.limiter.Wait(ctx); err != nil {
		c.logger.WithError(err).Error("Login aborted waiting for request slot")
		return models.LoginError
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost,
		c.cfg.BaseURL+"/oauth2/access_token",
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		c.logger.WithError(err).Error("Failed to build login request")
		return models.LoginError
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WithError(err).Error("Login connection error")
		return models.LoginError
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.logger.Error("Unauthorized: invalid credentials")
		return models.LoginUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		c.logger.WithField("status", resp.StatusCode).Error("Login failed")
		return models.LoginError
	}

	var login loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&login); err != nil {
		c.logger.WithError(err).Error("Failed to decode login response")
		return models.LoginError
	}
	if login.AccessToken == "" {
		c.logger.Error("No access token in login response")
		return models.LoginError
	}

	lifetime := login.ExpiresIn
	if lifetime <= 0 {
		lifetime = defaultTokenLifetime
	}
	c.accessToken = login.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(lifetime) * time.Second)

	c.logger.Debug("Login successful")
	return models.LoginOK
}

// GetData fetches one best-effort snapshot of every profile on the
// account. The returned map is keyed by profile id and contains exactly
// the profiles reported by the profiles endpoint: failures of the
// devices, rules or hourly summary fetches degrade individual fields to
// their defaults but never drop a profile. A failure of login, the
// account lookup or the profile list aborts the cycle and returns an
// empty map together with the error; an account with zero profiles
// returns an empty map and no error.
func (c *Client) GetData(ctx context.Context) (map[int64]models.ProfileSnapshot, error) {
	data := make(map[int64]models.ProfileSnapshot)

	defer func() {
		c.accountID = 0
		c.accountUID = ""
	}()

	if result := c.Login(ctx); result != models.LoginOK {
		return data, fmt.Errorf("%w: %s", ErrLoginFailed, result)
	}

	var account accountResponse
	if err := c.getJSON(ctx, c.cfg.BaseURL+"/accounts/me", &account); err != nil {
		c.logger.WithError(err).Error("Failed to fetch account info")
		return data, fmt.Errorf("%w: %v", ErrAccountFetch, err)
	}
	c.accountID = account.ID
	c.accountUID = account.UID
	if c.accountUID == "" {
		c.accountUID = strconv.FormatInt(account.ID, 10)
	}

	devices := c.fetchDevices(ctx)

	var profiles []profileResponse
	profilesURL := fmt.Sprintf("%s/accounts/%d/profiles/", c.cfg.BaseURL, c.accountID)
	if err := c.getJSON(ctx, profilesURL, &profiles); err != nil {
		c.logger.WithError(err).Error("Failed to fetch profiles")
		return data, fmt.Errorf("%w: %v", ErrProfilesFetch, err)
	}

	today := time.Now()

	for _, profile := range profiles {
		c.logger.WithField("profile", profile.Name).Debug("Processing profile")

		snapshot := models.ProfileSnapshot{
			ID:       profile.ID,
			UID:      profile.UID,
			Name:     profile.Name,
			IsOnline: profile.Status.IsOnline,
			LastSeen: profile.Status.LastSeen,
		}
		if snapshot.UID == "" {
			snapshot.UID = strconv.FormatInt(profile.ID, 10)
		}

		for _, deviceID := range profile.DeviceIDs {
			device, ok := devices[deviceID]
			if !ok {
				continue
			}
			if device.Alerts.UnauthorizedRemove {
				name := device.Name
				snapshot.UnauthorizedRemove = true
				snapshot.DeviceTampered = &name
			}
		}

		location := profile.Status.Location
		if snapshot.IsOnline && location.Device != nil {
			if device, ok := devices[*location.Device]; ok {
				name := device.Name
				snapshot.CurrentDevice = &name
			}
		}
		snapshot.Latitude = location.Latitude
		snapshot.Longitude = location.Longitude
		snapshot.Accuracy = location.Accuracy

		snapshot.QuotaMinutes = c.fetchQuota(ctx, profile, today)
		snapshot.ScreenTimeMinutes = c.fetchScreenTime(ctx, profile.Name, snapshot.UID, today)

		data[profile.ID] = snapshot
	}

	return data, nil
}

// fetchDevices returns the account's devices keyed by id. Best-effort:
// on failure the snapshot is assembled without device data.
func (c *Client) fetchDevices(ctx context.Context) map[int64]deviceResponse {
	devices := make(map[int64]deviceResponse)

	var list []deviceResponse
	devicesURL := fmt.Sprintf("%s/accounts/%d/devices", c.cfg.BaseURL, c.accountID)
	if err := c.getJSON(ctx, devicesURL, &list); err != nil {
		c.logger.WithError(err).Warn("Failed to fetch devices, continuing without device data")
		return devices
	}

	for _, device := range list {
		devices[device.ID] = device
	}
	return devices
}

// fetchQuota resolves today's screen-time allowance from the profile's
// rules. Best-effort: absent rules, an absent day entry or a failed
// fetch all yield 0. Successful responses are cached per profile and
// day, so rules are fetched at most once per profile per day.
func (c *Client) fetchQuota(ctx context.Context, profile profileResponse, today time.Time) int {
	dow := dayCode(today)

	cacheKey := fmt.Sprintf("%d:%s", profile.ID, today.Format("2006-01-02"))
	if c.rulesCache != nil {
		if cached, ok := c.rulesCache.Get(cacheKey); ok {
			return cached.(map[string]int)[dow]
		}
	}

	var rules rulesResponse
	rulesURL := fmt.Sprintf("%s/accounts/%d/profiles/%d/rules?app_rules=1",
		c.cfg.BaseURL, c.accountID, profile.ID)
	if err := c.getJSON(ctx, rulesURL, &rules); err != nil {
		c.logger.WithError(err).WithField("profile", profile.Name).
			Warn("Failed to fetch rules, defaulting quota to 0")
		return 0
	}

	quotas := rules.TimeRestrictions.Quotas
	if c.rulesCache != nil {
		c.rulesCache.Add(cacheKey, quotas)
	}
	return quotas[dow]
}

// fetchScreenTime sums today's hourly summary into minutes, rounded to
// one decimal. Best-effort: any failure yields 0.
func (c *Client) fetchScreenTime(ctx context.Context, profileName, profileUID string, today time.Time) float64 {
	summaryURL := fmt.Sprintf("%s/accounts/%s/profiles/%s/summary_hourly?date=%s",
		c.cfg.SummaryBaseURL, c.accountUID, profileUID, today.Format("2006-01-02"))

	var entries []hourlyEntry
	if err := c.getJSON(ctx, summaryURL, &entries); err != nil {
		c.logger.WithError(err).WithField("profile", profileName).
			Warn("Failed to fetch hourly summary, defaulting screen time to 0")
		return 0
	}

	var totalSeconds float64
	for _, entry := range entries {
		totalSeconds += entry.ScreenTimeSeconds
	}
	return math.Round(totalSeconds/60*10) / 10
}

// getJSON performs an authenticated GET and decodes the JSON body.
func (c *Client) getJSON(ctx context.Context, requestURL string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRequest, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRequest, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: got %d", ErrStatus, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %v", err)
	}
	return nil
}
