package rdmtests

import "fmt"

// ProtocolError is returned when the server answered with status false, or
// with a well-formed reply that does not match the endpoint's schema.
type ProtocolError struct {
	Endpoint string
	Message  string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Endpoint, e.Message)
}

// TransportError covers everything that prevented a usable response:
// connection failures, timeouts, unexpected HTTP status, malformed JSON.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s request failed: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
