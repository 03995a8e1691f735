// Package activation decides whether this device may run the
// notification capture feature.
//
// A device is activated by presenting a token: URL-safe base64 of a JSON
// object naming the device, an activation uuid, a start time and a
// duration in seconds. The Engine decodes the token, requires the
// embedded device id to match the local one exactly, checks the time
// window and persists the outcome in a Store.
//
// The window is [start - GraceBuffer, start + duration]. Only the lower
// bound carries grace. The offline Activate path takes the same inputs
// without a token and applies no grace at all.
//
// Expiry is lazy: IsActive clears an expired record when it observes
// one. Nothing runs in the background.
//
// Tokens are not signed. The check is an advisory local gate and must
// not be treated as proof of entitlement.
package activation
