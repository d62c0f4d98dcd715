// Package webhooks delivers hierarchy and artifact lifecycle events to
// registered HTTP endpoints.
//
// # Events
//
// artifact.created, artifact.updated, artifact.deleted
// org.archived, project.archived
//
// Deliveries are signed with HMAC-SHA256 when the webhook carries a
// secret; receivers verify with the X-Trove-Signature header:
//
//	sig := r.Header.Get("X-Trove-Signature")
//	if !webhooks.VerifySignature(body, sig, secret) {
//		return errors.New("invalid signature")
//	}
//
// Failed deliveries are retried with exponential backoff (1s, 2s, 4s, ...
// capped at 5 minutes, 5 attempts) by a background worker. Delivery
// attempts are recorded in a bounded in-memory log for inspection through
// the API.
package webhooks
