// Package jwt mints and validates the HS256 bearer tokens issued by the
// stepauth engine once every required factor is satisfied.
package jwt
