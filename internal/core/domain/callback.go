package domain

// CallbackEnvelope is the parsed parameter set of an inbound OAuth redirect
// URL. Produced and consumed within a single routing operation.
type CallbackEnvelope struct {
	// Service is the service segment extracted from the callback path.
	Service string
	// Code is the authorization code, if present.
	Code string
	// State is the raw state parameter, if present.
	State string
	// Error is the provider error code, if present.
	Error string
	// ErrorDescription is the provider's human-readable error detail.
	ErrorDescription string
}

// HasError returns true if the provider reported an authorization error.
func (e CallbackEnvelope) HasError() bool {
	return e.Error != ""
}

// providerErrorMessages maps the OAuth error codes providers are known to
// return to short user-facing descriptions. Unknown codes fall back to the
// provider's error_description.
var providerErrorMessages = map[string]string{
	"access_denied":             "access was denied",
	"invalid_request":           "the authorization request was invalid",
	"invalid_scope":             "the requested permissions were rejected",
	"unauthorized_client":       "the application is not authorized",
	"unsupported_response_type": "the provider rejected the request type",
	"server_error":              "the provider encountered an error",
	"temporarily_unavailable":   "the provider is temporarily unavailable",
}

// ProviderErrorMessage returns a user-facing message for a provider error
// code, falling back to the description and then to a generic message so an
// error parameter is never silently swallowed.
func ProviderErrorMessage(code, description string) string {
	if msg, ok := providerErrorMessages[code]; ok {
		return msg
	}
	if description != "" {
		return description
	}
	return "authorization failed"
}
