package natsclient

import "time"

// startWatch polls the server round trip every health interval. It records
// RTT, moves the state between connected and reconnecting and reports
// health changes.
func (c *Client) startWatch() {
	c.stopWatch()

	stop := make(chan struct{})
	done := make(chan struct{})
	c.mu.Lock()
	c.watchStop, c.watchDone = stop, done
	c.mu.Unlock()

	go func() {
		defer close(done)

		ticker := time.NewTicker(c.healthInterval)
		defer ticker.Stop()

		healthy := c.IsHealthy()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
			}

			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()
			if conn == nil {
				continue
			}

			ok := conn.IsConnected()
			if ok {
				rtt, err := conn.RTT()
				switch {
				case err != nil:
					ok = false
				case c.metrics != nil:
					c.metrics.RecordNATSRTT(rtt)
				}
			}
			c.recordConnected(ok)

			switch state := c.State(); {
			case ok && state != StateConnected:
				c.setState(StateConnected)
			case !ok && state == StateConnected:
				c.setState(StateReconnecting)
			}

			if ok != healthy && c.onHealthChange != nil {
				c.onHealthChange(ok)
			}
			healthy = ok
		}
	}()
}

func (c *Client) stopWatch() {
	c.mu.Lock()
	stop, done := c.watchStop, c.watchDone
	c.watchStop, c.watchDone = nil, nil
	c.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}
