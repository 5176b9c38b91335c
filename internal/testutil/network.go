package testutil

import (
	"sync"
	"sync/atomic"
)

// FakeNetwork is a kioku.Network whose connectivity tests toggle.
type FakeNetwork struct {
	online atomic.Bool
}

func NewFakeNetwork(online bool) *FakeNetwork {
	n := &FakeNetwork{}
	n.online.Store(online)
	return n
}

func (n *FakeNetwork) IsNetworkAvailable() bool { return n.online.Load() }

func (n *FakeNetwork) SetOnline(online bool) { n.online.Store(online) }

// FakeAuth is a kioku.Auth with a settable user.
type FakeAuth struct {
	mu     sync.Mutex
	userID string
}

func NewFakeAuth(userID string) *FakeAuth {
	return &FakeAuth{userID: userID}
}

func (a *FakeAuth) CurrentUserID() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.userID, a.userID != ""
}

func (a *FakeAuth) SetUser(userID string) {
	a.mu.Lock()
	a.userID = userID
	a.mu.Unlock()
}
