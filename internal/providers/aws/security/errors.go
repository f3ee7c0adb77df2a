package awssecurity

import (
	"errors"

	"github.com/aws/smithy-go"
)

// ErrIdentity marks a failure of the identity-establishing call (HeadBucket
// or DescribeKey). The audit of that resource is aborted and no finding is
// written or removed.
var ErrIdentity = errors.New("resource identity unavailable")

// notConfiguredCodes are the provider error codes that mean "this setting is
// absent". They select the documented default silently.
var notConfiguredCodes = map[string]struct{}{
	"ServerSideEncryptionConfigurationNotFoundError": {},
	"OwnershipControlsNotFoundError":                 {},
	"NoSuchPublicAccessBlockConfiguration":           {},
	"NoSuchBucketPolicy":                             {},
	"NoSuchTagSet":                                   {},
	"NoSuchConfiguration":                            {},
	"NotFoundException":                              {},
	"UnsupportedOperationException":                  {},
}

// isNotConfigured reports whether err is a provider API error whose code
// means the setting is simply not configured.
func isNotConfigured(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	_, ok := notConfiguredCodes[apiErr.ErrorCode()]
	return ok
}
