package provider

import (
	"time"

	"github.com/Polqt/crdtcollab/transport"
	"github.com/Polqt/crdtcollab/yproto"
)

// startResyncTimer begins the periodic proactive syncStep1 send over the
// transport only (§4.2 "Resync timer"), guarding against silent divergence
// when updates are dropped. A resync_interval <= 0 disables it.
func (p *Provider) startResyncTimer() {
	if p.resyncInterval <= 0 {
		return
	}
	p.mu.Lock()
	if p.resyncStop != nil {
		p.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	p.resyncStop = stop
	p.mu.Unlock()

	p.resyncWg.Add(1)
	go func() {
		defer p.resyncWg.Done()
		ticker := time.NewTicker(p.resyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if p.tm.State() != transport.StateConnected {
					continue
				}
				frame, err := yproto.EncodeSyncStep1(p.doc)
				if err != nil {
					p.logger.Warn("provider: encode resync syncStep1", "err", err)
					continue
				}
				_ = p.tm.Send(frame)
			}
		}
	}()
}

func (p *Provider) stopResyncTimer() {
	p.mu.Lock()
	stop := p.resyncStop
	p.resyncStop = nil
	p.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	p.resyncWg.Wait()
}
