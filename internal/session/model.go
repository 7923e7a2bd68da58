package session

import "time"

// PendingState correlates an in-flight authorization request with its
// callback. There is no server-side store: the whole struct travels as a
// signed short-lived cookie, and the State value additionally rides along
// as the state query parameter of the provider redirect.
type PendingState struct {
	State     string    // Random token to align the auth request with the callback
	ReturnURL string    // Where to send the browser after a successful login
	Expiry    time.Time // Expiry time of the login attempt
}
