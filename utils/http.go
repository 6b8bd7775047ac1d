// utils/http.go
package utils

import (
	"net/http"
	"time"
)

// HTTPClient downloads demo files.
var HTTPClient = &http.Client{
	Timeout: 300 * time.Second, // 5 minutes for large demos
}

// APIClient is used for the rate-limited web API calls.
var APIClient = &http.Client{
	Timeout: 10 * time.Second,
}
