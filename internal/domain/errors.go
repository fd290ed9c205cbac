package domain

const ProxyErrorType = "proxy_error"

type ErrorDetail struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
	Type    string `json:"type"`
}

// ErrorResponse is the body of every HTTP error returned before a stream starts.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

func NewErrorResponse(code int, message string) ErrorResponse {
	return ErrorResponse{Error: ErrorDetail{Message: message, Code: code, Type: ProxyErrorType}}
}
