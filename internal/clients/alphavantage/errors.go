package alphavantage

import "fmt"

// ErrRateLimitExceeded is returned when the API signals a quota or frequency limit
type ErrRateLimitExceeded struct {
	Message string
}

func (e ErrRateLimitExceeded) Error() string {
	if e.Message == "" {
		return "alpha vantage rate limit exceeded"
	}
	return "alpha vantage rate limit exceeded: " + e.Message
}

// ErrAPI is returned for an explicit "Error Message" response
type ErrAPI struct {
	Message string
}

func (e ErrAPI) Error() string {
	return "alpha vantage API error: " + e.Message
}

// ErrHTTPStatus is returned for unexpected HTTP status codes
type ErrHTTPStatus struct {
	StatusCode int
}

func (e ErrHTTPStatus) Error() string {
	return fmt.Sprintf("alpha vantage returned HTTP %d", e.StatusCode)
}
