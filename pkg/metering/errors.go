package metering

import "errors"

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrSubscriptionExists   = errors.New("subscription already exists")

	ErrUsageRecordNotFound = errors.New("usage record not found")
	ErrUsageRecordExists   = errors.New("usage record already exists")

	// ErrTrialExpired guards the email increments only; AI suggestion
	// increments pass through pending product sign-off on the asymmetry.
	ErrTrialExpired = errors.New("trial has expired: cannot send or receive more emails")

	ErrUnknownCounter = errors.New("unknown usage counter")
)
