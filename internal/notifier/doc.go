// Package notifier delivers due reminders to their owners.
//
// Telegram is the primary channel: Deliver succeeds exactly when the
// Telegram message was accepted, so the sweeper may delete the reminder.
// Sends share a token bucket and are bounded by a per-attempt timeout.
//
// # Secondary channels
//
// An owner with a WhatsApp number mapped in config also gets a copy through
// Twilio. Copies go through a bounded queue drained by a supervised worker
// with retry and backoff; their failures are logged and published on the
// event bus but never fail the delivery.
package notifier
