// Package manager builds the named connections of a devlink configuration
// and runs them as one unit.
//
// Every connection shares the manager's worker pool, clock and metrics
// registry. Handler invocations are republished as Events so the NATS
// bridge and the WebSocket tap can observe traffic without owning the
// connections:
//
//	mgr, err := manager.New(cfg, manager.Deps{Registry: registry, Logger: logger})
//	if err != nil {
//		return err
//	}
//	stop := mgr.Subscribe(func(e manager.Event) { ... })
//	defer stop()
//
//	if err := mgr.StartAll(ctx); err != nil {
//		return err
//	}
//	defer mgr.CloseAll(shutdownCtx)
package manager
