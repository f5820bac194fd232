// Package storage abstracts where finished recording artifacts are kept,
// with local filesystem and S3-compatible backends.
package storage
