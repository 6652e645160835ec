package tracker

import (
	"errors"
	"fmt"
)

// ErrParentCycle is returned when the parent links of a batch form a cycle.
// It is a data error: the project is aborted and its watermark kept.
var ErrParentCycle = errors.New("parent cycle")

// AuthError reports that a tracker rejected or could not be given credentials.
type AuthError struct {
	Service string
	Reason  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s authentication failed: %s", e.Service, e.Reason)
}

// RemoteError is a non-2xx response from a tracker API.
type RemoteError struct {
	Service    string
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	body := e.Body
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("%s API error %d on %s %s: %s", e.Service, e.StatusCode, e.Method, e.URL, body)
}

// IsNotFound reports whether err is a RemoteError with status 404.
func IsNotFound(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.StatusCode == 404
}
