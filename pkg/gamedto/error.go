package gamedto

// DomainError is a caller-facing failure that crosses the wire. Retryable
// marks integration hiccups (oracle or settlement unavailable) where the
// client should simply re-offer the action.
type DomainError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "game service error"
}
