package domain

import "strings"

// AuthHeaders returns the outbound headers a connector's credential scheme
// requires: apiKey auth sends the shared key under the manifest-declared
// header name, bearer auth sends it as an Authorization bearer token.
func AuthHeaders(auth ConnectorAuth, apiKey string) map[string]string {
	headers := make(map[string]string, 1)
	switch auth.Type {
	case AuthAPIKey:
		name := strings.TrimSpace(auth.HeaderName)
		if name == "" {
			name = "X-Api-Key"
		}
		headers[name] = apiKey
	case AuthBearer:
		headers["Authorization"] = "Bearer " + apiKey
	}
	return headers
}
