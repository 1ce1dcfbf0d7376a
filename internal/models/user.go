package models

// Identity is the user resolved from a bearer token. Accounts live outside
// the gateway, so only the fields carried in the token are known here.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}
