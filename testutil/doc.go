// Package testutil provides fakes shared by the devlink test suites: a
// manually advanced clock, an in-memory transport and a mock NATS client.
package testutil
