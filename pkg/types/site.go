package types

// Credentials holds the portal login. Supplied at construction and never
// mutated afterwards.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SiteConfig identifies a single organization/site on the portal plus the
// local display settings for it. Immutable after load; the portal client
// only reads from it.
type SiteConfig struct {
	OrganizationID        string  `json:"organizationID"`
	SiteID                string  `json:"siteID"`
	BaseURL               string  `json:"baseURL"`
	Location              string  `json:"location"`
	BatteryCapacityKWH    float64 `json:"batteryCapacityKWH"`
	BatteryReservePercent int     `json:"batteryReservePercent"`
}
