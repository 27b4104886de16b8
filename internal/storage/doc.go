// Package storage holds the credential stores and blob archive that sit
// outside the relational database: a YAML state file for single-host runs,
// DynamoDB and S3 for AWS deployments, and a Redis mirror read by older
// tooling.
package storage
