package remote

import "fmt"

// NotFoundError is a 404 from the service. Callers care about this one
// specifically: for most resources "not found" means "create it", not a
// failure.
type NotFoundError struct {
	URL string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.URL)
}

// AuthError is a 401 or 403: the API token is missing, expired, or lacks
// permission on the course.
type AuthError struct {
	StatusCode int
	URL        string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed (HTTP %d): %s", e.StatusCode, e.URL)
}

// ValidationError is any other 4xx: the service rejected a request body. The
// response body usually names the offending fields, so it is preserved.
type ValidationError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("request rejected (HTTP %d): %s: %s", e.StatusCode, e.URL, e.Body)
}

// ServerError is a 5xx.
type ServerError struct {
	StatusCode int
	URL        string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error (HTTP %d): %s", e.StatusCode, e.URL)
}
