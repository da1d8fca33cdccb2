// Package common contains shared constants, sentinel errors and the engine
// error taxonomy used across GophSync components.
package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the caller's
// access token on inbound requests.
const AccessTokenHeaderName = "access_token"

// Delete origins recorded on soft-deleted file records.
const (
	DeleteOriginUser   = "user"
	DeleteOriginRemote = "remote"
)
