// Package health reports the health of devlink connections and the process
// as a whole.
//
// A Status is healthy, degraded or unhealthy. FromConnection derives one from
// an engine.Status snapshot: a connected supervisor is healthy, one that is
// reconnecting after having connected before is degraded, and one that has
// never managed to connect, or has been stopped, is unhealthy. Error text is
// redacted before it is placed in a Status so addresses, paths and
// credentials do not leak through the /health endpoint.
//
// Monitor keeps the latest Status per name and aggregates them:
//
//	monitor := health.NewMonitor()
//	for _, conn := range conns {
//		monitor.Observe(conn.Status())
//	}
//	overall := monitor.AggregateHealth("devlink")
//
// The aggregate takes the worst member level; a member with an unknown level
// counts as unhealthy.
package health
