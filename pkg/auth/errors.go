package auth

// AuthError kinds map onto HTTP statuses at the transport boundary.
const (
	KindUnauthorized = "unauthorized" // 401
	KindForbidden    = "forbidden"    // 403
)

// AuthError is an authentication or authorization failure.
type AuthError struct {
	Kind    string
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

var (
	ErrMissingCredentials = &AuthError{Kind: KindUnauthorized, Message: "missing credentials"}
	ErrInvalidCredentials = &AuthError{Kind: KindUnauthorized, Message: "invalid credentials"}
)
