// Package triage turns a single signal into a TriageAnalysis. It defines the
// Classifier capability, the live provider-backed implementation, the mock
// used when no credential is configured, and the deterministic fallback that
// every failure resolves to.
package triage
