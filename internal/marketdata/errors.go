package marketdata

import "fmt"

// Fetch stages reported by FetchError.
const (
	StageRequest = "request" // transport failure, timeout, cancelled context
	StageStatus  = "status"  // non-2xx response
	StageDecode  = "decode"  // body is not a valid ticker map
)

// FetchError reports a failed snapshot fetch from the upstream provider.
type FetchError struct {
	Stage      string
	StatusCode int // set for StageStatus
	Err        error
}

func (e *FetchError) Error() string {
	if e.Stage == StageStatus {
		return fmt.Sprintf("fetch tickers: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("fetch tickers (%s): %v", e.Stage, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
