// Package domain defines the core business types for the delivery-stats collector.
//
// Types in this package are pure value objects with no behavior beyond small
// pure helpers, no database dependencies, and no HTTP concerns. They are the
// shared language between platform clients, the collector, the aggregator,
// repositories and the exporter.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/YAML/DB tags are allowed (they're metadata, not behavior)
//   - Constants and enums belong here
package domain
