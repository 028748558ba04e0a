package marketdata

import "time"

// Endpoint describes one governed upstream endpoint. Concurrency and
// rate limits are per-endpoint configuration, never global.
type Endpoint struct {
	Name            string
	Method          string
	Path            string
	Concurrency     int
	RatePerInterval int
	Interval        time.Duration
}

// Default endpoint catalogue. The limits mirror the upstream API's
// published quotas and can be overridden from configuration.
var (
	// EndpointScreener runs the server-side screener/scanner.
	EndpointScreener = Endpoint{
		Name:            "screener",
		Method:          "POST",
		Path:            "/v1/scanner",
		Concurrency:     1,
		RatePerInterval: 1,
		Interval:        time.Second,
	}

	// EndpointHistory fetches historical bars, one ticker per request.
	EndpointHistory = Endpoint{
		Name:            "history",
		Method:          "GET",
		Path:            "/v1/history",
		Concurrency:     5,
		RatePerInterval: 5,
		Interval:        time.Second,
	}

	// EndpointSnapshot fetches reference/snapshot data for one ticker.
	EndpointSnapshot = Endpoint{
		Name:            "snapshot",
		Method:          "GET",
		Path:            "/v1/snapshot",
		Concurrency:     10,
		RatePerInterval: 10,
		Interval:        time.Second,
	}

	// EndpointSecurity looks up securities, batched by symbol list.
	EndpointSecurity = Endpoint{
		Name:            "security",
		Method:          "GET",
		Path:            "/v1/security",
		Concurrency:     1,
		RatePerInterval: 2,
		Interval:        time.Second,
	}

	// EndpointStatus is the cheap session probe.
	EndpointStatus = Endpoint{
		Name:            "status",
		Method:          "GET",
		Path:            "/v1/status",
		Concurrency:     1,
		RatePerInterval: 1,
		Interval:        time.Second,
	}

	// EndpointReauth re-establishes the authenticated session.
	EndpointReauth = Endpoint{
		Name:            "reauth",
		Method:          "POST",
		Path:            "/v1/reauthenticate",
		Concurrency:     1,
		RatePerInterval: 1,
		Interval:        time.Second,
	}
)
