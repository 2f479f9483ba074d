package protocol

import "fmt"

// Ack codes.
const (
	CodeOK          = 0
	CodeBadRequest  = 400
	CodeNotJoined   = 403
	CodeRateLimited = 429
	CodeInternal    = 500
)

// AckError is a non-zero acknowledgment. The connection stays usable.
type AckError struct {
	Code    int
	Message string
}

func (e *AckError) Error() string {
	return fmt.Sprintf("ack code %d: %s", e.Code, e.Message)
}

// Err returns nil for a successful ack and an *AckError otherwise.
func (a Ack) Err() error {
	if a.Code == CodeOK {
		return nil
	}
	return &AckError{Code: a.Code, Message: a.Message}
}
