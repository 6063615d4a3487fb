// Package r2 publishes composed videos to S3-compatible object storage
// (Cloudflare R2) using signature version 4 request signing.
package r2
