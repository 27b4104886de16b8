// Package session keeps per-account, per-platform credentials valid.
//
// The Manager is the only writer of credentials. Any token it obtains from a
// refresh or login is saved to the CredentialStore before the caller sees it,
// because platform refresh tokens are single use and a crash between issuing
// and saving would strand the account. Secondary mirrors are written after
// the durable store and their failures are only logged.
//
// Calls for the same account and platform are serialized through a
// distlock.Locker so a concurrent caller never reads a token mid-refresh.
package session
