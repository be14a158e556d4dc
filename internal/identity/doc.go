// Package identity resolves the device identifier a worker presents to the
// licensing service.
//
// An explicit override always wins and is used verbatim. Without one, the
// identifier is derived from the host name so that repeated runs on the same
// machine reuse the same device slot:
//
//	langchain:agent-<first 8 hex chars of UUIDv5(host)>
//
// Host names are NFC-normalised and lower-cased before hashing, so
// "Worker-01" and "worker-01" map to the same identifier.
package identity
