// Package machineid is a client for the MachineID.io device licensing API.
//
// Two calls are supported, both POST with a JSON body {"deviceId": "..."}
// and the organization key in the x-org-key header:
//
//   - /api/v1/devices/register: create-or-confirm a device slot. Repeat calls
//     for the same org and device answer status "exists" instead of failing.
//   - /api/v1/devices/validate: the allow/deny decision for a device.
//
// Decisions are strict: Decision.Allowed is true only when the response body
// is a JSON object whose "allowed" member is the literal true. A string
// "true", null, a missing member or an HTTP error status all decode as not
// allowed.
package machineid
