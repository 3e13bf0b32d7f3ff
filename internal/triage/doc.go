// Package triage correlates normalized alerts into incidents and assesses
// their impact. It defines the Classifier (per-signal state and trend), the
// impact assessor, the Correlator (grouping, dedupe and lifecycle), the
// in-memory incident Store and the Service that ties ingestion to cache
// invalidation, change notification and escalation.
package triage
