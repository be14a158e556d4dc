// Package gate enforces the register → validate → run sequence for one
// worker process.
//
// A run proceeds in a fixed order:
//
//  1. Check the organization key and resolve the device identifier. Failure is
//     a CONFIGURATION error and no network call is made.
//  2. Register the device. Failure is a warning recorded on the Outcome; the
//     run continues because validation is the authoritative gate.
//  3. Validate the device. Anything other than allowed == true is a
//     VALIDATION_REFUSED error and the task never starts.
//  4. Run the downstream task. Its error is a DOWNSTREAM_FAILURE.
//
// The gate performs no retries. Each step runs in its own OpenTelemetry span
// under a "devicegate.run" root span.
package gate
