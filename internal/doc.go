// Package qustodiobridge implements a bridge service between the
// Qustodio parental-control API and automation consumers.
//
// # Architecture
//
// The service is structured into several key packages:
//   - api: Qustodio API client (authentication and snapshot fan-out)
//   - config: YAML configuration with environment expansion
//   - coordinator: guarded latest-snapshot store with subscriber notification
//   - metrics: Prometheus collectors for poll health and profile telemetry
//   - models: shared data structures
//   - scheduler: fixed-interval poll trigger with overlap protection
//   - server: read-only HTTP API surface
//
// Key Features
//
//   - Snapshot polling:
//     One poll cycle fans out to the account, devices, profiles, rules
//     and hourly summary endpoints and folds them into one snapshot per
//     profile. Optional sub-fetches degrade to defaults instead of
//     dropping profiles.
//
//   - Session lifecycle:
//     The access token is cached and transparently renewed on expiry; a
//     failed or cancelled cycle never corrupts it.
//
//   - Telemetry:
//     Per-profile screen time, quota, online and tamper state are
//     exposed as Prometheus gauges and via the JSON API.
//
// For more information about specific packages, see their respective
// documentation.
package qustodiobridge
