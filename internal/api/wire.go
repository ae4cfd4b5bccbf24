package api

// Wire types for the upstream Qustodio endpoints. Only the fields the
// bridge consumes are decoded; everything else is ignored.

type loginResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

type accountResponse struct {
	ID  int64  `json:"id"`
	UID string `json:"uid"`
}

type deviceResponse struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Alerts struct {
		UnauthorizedRemove bool `json:"unauthorized_remove"`
	} `json:"alerts"`
}

type profileResponse struct {
	ID        int64   `json:"id"`
	UID       string  `json:"uid"`
	Name      string  `json:"name"`
	DeviceIDs []int64 `json:"device_ids"`
	Status    struct {
		IsOnline bool   `json:"is_online"`
		LastSeen string `json:"lastseen"`
		Location struct {
			Device    *int64   `json:"device"`
			Latitude  *float64 `json:"latitude"`
			Longitude *float64 `json:"longitude"`
			Accuracy  float64  `json:"accuracy"`
		} `json:"location"`
	} `json:"status"`
}

type rulesResponse struct {
	TimeRestrictions struct {
		Quotas map[string]int `json:"quotas"`
	} `json:"time_restrictions"`
}

type hourlyEntry struct {
	ScreenTimeSeconds float64 `json:"screen_time_seconds"`
}
