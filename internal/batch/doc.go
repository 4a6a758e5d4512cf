// Package batch defines the transaction batch handed to a dashboard surface
// by an ingestion source, and the validation every source goes through.
//
// A Batch is immutable once built. Re-ingestion replaces it wholesale.
package batch
