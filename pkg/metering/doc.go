// Package metering implements usage and subscription metering for the
// support inbox: which billing period a user is in, how many emails and
// AI-suggested replies they have consumed, when a trial expires, and whether
// an action is still permitted under the user's plan.
//
// The engine is consulted by request handlers and webhook processors. Callers
// are expected to pre-check with CanSendEmail/CanReceiveEmail/CanUseAI for a
// friendly percentage and remaining count, then enforce with the matching
// increment call after the action succeeds.
//
// State lives in two tables behind the Store interface: one subscription per
// user (created lazily as a trial on first metering call) and one usage record
// per subscription and billing period. Counter increments are single atomic
// storage updates, so concurrent requests for the same user never lose
// updates. Find-or-create races on new periods resolve through uniqueness
// constraints: a duplicate-key result means someone else won, and the engine
// re-fetches instead of failing.
//
// Trial periods never roll over; once a trial's single period ends the
// subscription is flipped to expired in place. Paid periods roll forward one
// calendar month at a time as usage records, while the subscription's own
// period bounds keep their original values (the checkout flow rewrites them
// on renewal).
package metering
