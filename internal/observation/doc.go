// Package observation defines the immutable status observation records produced by
// classifying a fetched event page.
//
// Observations are append-only: one record per successful fetch and classification,
// never updated or deleted. Ordering between observations is defined explicitly by
// Newer, which compares observed_at first and confidence second, so resolution never
// depends on storage or insertion order.
package observation
