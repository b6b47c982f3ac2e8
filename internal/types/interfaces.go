// internal/types/interfaces.go
package types

// TokenSource is the read side of the session that outbound calls need: the
// current bearer token, and a way to drop the session when the backend
// rejects it.
type TokenSource interface {
	Token() (string, bool)
	Logout() error
}
