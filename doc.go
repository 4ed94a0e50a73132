// Package stepauth implements the step-up authentication core of the
// CyberScope platform: a primary credential check, conditional second-factor
// challenges (SMS one-time codes or TOTP), and stateless HS256 bearer-token
// issuance once every required factor is satisfied.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// stepauth is the public surface. It exposes [Engine], [Builder], [Config],
// the injectable stores ([SettingsStore], [ChallengeStore]) and collaborator
// interfaces ([CredentialChecker], [SMSSender]). Token signing and parsing
// live in the jwt subpackage; random code generation lives under internal/.
//
// # What this package must NOT do
//
//   - Hash or store passwords. The primary credential check is delegated to a
//     [CredentialChecker] supplied by the host application.
//   - Deliver SMS messages. Delivery goes through the [SMSSender]
//     collaborator; a delivery failure is reported as [ErrDeliveryFailed],
//     never as a verification failure.
//   - Keep server-side session records. A session is exactly the signed token
//     and its embedded expiry.
package stepauth
