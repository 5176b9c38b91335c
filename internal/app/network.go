package app

import (
	"context"
	"sync/atomic"
	"time"

	"kioku/internal/kioku"
)

// DefaultProbeInterval is how often the daemon checks that the remote is reachable.
const DefaultProbeInterval = 30 * time.Second

// probeNetwork is a kioku.Network whose state is set from remote probes.
type probeNetwork struct {
	online atomic.Bool
}

func newProbeNetwork(online bool) *probeNetwork {
	n := &probeNetwork{}
	n.online.Store(online)
	return n
}

func (n *probeNetwork) IsNetworkAvailable() bool { return n.online.Load() }

// set stores online and reports whether it changed.
func (n *probeNetwork) set(online bool) bool {
	return n.online.Swap(online) != online
}

// probe runs check every interval until ctx is done and reports each
// connectivity transition on events. check failing means offline.
func (n *probeNetwork) probe(ctx context.Context, interval time.Duration, check func(context.Context) error, events chan<- kioku.Event, logger kioku.Logger) {
	for {
		pctx, cancel := context.WithTimeout(ctx, interval)
		err := check(pctx)
		cancel()
		if ctx.Err() != nil {
			return
		}

		online := err == nil
		if n.set(online) {
			if !online {
				logger.Info("remote unreachable", "error", err)
			} else {
				logger.Info("remote reachable")
			}
			select {
			case events <- kioku.NetworkChanged{Online: online}:
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// Compile-time check that probeNetwork implements kioku.Network
var _ kioku.Network = (*probeNetwork)(nil)

// configAuth signs in the user named in the config file.
type configAuth struct {
	userID string
}

func (a configAuth) CurrentUserID() (string, bool) {
	return a.userID, a.userID != ""
}

// Compile-time check that configAuth implements kioku.Auth
var _ kioku.Auth = configAuth{}
