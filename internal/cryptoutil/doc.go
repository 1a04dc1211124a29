// Package cryptoutil provides small hashing utilities: SHA-256 hex
// digests for change detection and constant-time hash comparison.
package cryptoutil
