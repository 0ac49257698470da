// Package jwt issues and verifies administrator access tokens.
//
// Each token carries the subject's uid and a pwc claim holding the credential's
// passwordChanged instant in Unix milliseconds. The package only signs and
// parses; comparing pwc against the stored credential is the caller's job.
package jwt
