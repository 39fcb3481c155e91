package entities

import "fmt"

// MalformedRequestError is returned for webhook bodies that cannot be used.
type MalformedRequestError struct {
	Field string
	Err   error
}

func (e *MalformedRequestError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("malformed request: %v", e.Err)
	}
	return fmt.Sprintf("malformed request [%s]: %v", e.Field, e.Err)
}

func (e *MalformedRequestError) Unwrap() error {
	return e.Err
}

// BackendError represents a failed call to the AI backend.
type BackendError struct {
	Op         string // "request", "status", "decode", "stream"
	StatusCode int
	Err        error
}

func (e *BackendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("ai backend error: %s (status %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("ai backend error: %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// TokenError represents a failure to obtain a Feishu tenant access token.
type TokenError struct {
	Code int
	Err  error
}

func (e *TokenError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("feishu token error (code %d): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("feishu token error: %v", e.Err)
}

func (e *TokenError) Unwrap() error {
	return e.Err
}

// SendError represents a failure of the Feishu message API.
type SendError struct {
	ReceiveID string
	Code      int
	Err       error
}

func (e *SendError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("feishu send error [%s] (code %d): %v", e.ReceiveID, e.Code, e.Err)
	}
	return fmt.Sprintf("feishu send error [%s]: %v", e.ReceiveID, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}
