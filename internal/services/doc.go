// Package services holds shared infrastructure for the external service
// clients the pipeline depends on: the failure taxonomy every stage reports
// through, plus retry and JSON-decoding helpers for model APIs.
package services
