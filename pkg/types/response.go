package types

// SuccessEnvelope wraps every 2xx body. Meta is only set on list endpoints.
type SuccessEnvelope struct {
	Data any       `json:"data"`
	Meta *ListMeta `json:"meta,omitempty"`
}

// ListMeta carries the page size and the cursor for the next, older page.
type ListMeta struct {
	Count      int    `json:"count"`
	NextBefore string `json:"next_before,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
