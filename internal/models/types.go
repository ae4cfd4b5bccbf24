package models

// LoginResult classifies the outcome of an authentication attempt.
type LoginResult string

const (
	// LoginOK means a valid token is cached or was just obtained.
	LoginOK LoginResult = "OK"
	// LoginUnauthorized means the service rejected the credentials.
	LoginUnauthorized LoginResult = "UNAUTHORIZED"
	// LoginError covers timeouts, transport failures, unexpected
	// statuses and malformed login responses.
	LoginError LoginResult = "ERROR"
)

// ProfileSnapshot is the normalized per-profile view assembled from the
// account, devices, profiles, rules and hourly summary endpoints during
// one poll cycle.
type ProfileSnapshot struct {
	ID   int64  `json:"id"`
	UID  string `json:"uid"`
	Name string `json:"name"`

	IsOnline      bool    `json:"is_online"`
	CurrentDevice *string `json:"current_device"`

	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Accuracy  float64  `json:"accuracy"`
	LastSeen  string   `json:"lastseen,omitempty"`

	// QuotaMinutes is today's screen-time allowance; 0 when the profile
	// has no rules or the rules fetch failed.
	QuotaMinutes int `json:"quota"`
	// ScreenTimeMinutes is today's accumulated screen time, rounded to
	// one decimal; 0 when the hourly summary fetch failed.
	ScreenTimeMinutes float64 `json:"time"`

	UnauthorizedRemove bool    `json:"unauthorized_remove"`
	DeviceTampered     *string `json:"device_tampered"`
}
