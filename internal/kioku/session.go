package kioku

// Session is the identity a sync runs under. It replaces any notion of a
// process-wide current user: callers pass it explicitly.
type Session struct {
	UserID string
}

// LoggedIn reports whether the session belongs to a user.
func (s Session) LoggedIn() bool {
	return s.UserID != ""
}

// Auth reports the signed-in user.
type Auth interface {
	// CurrentUserID returns the user ID, or false when nobody is signed in.
	CurrentUserID() (string, bool)
}

// Network reports connectivity.
type Network interface {
	IsNetworkAvailable() bool
}

// Event is a state transition reported by the auth or network collaborators.
type Event interface {
	isEvent()
}

// NetworkChanged reports a connectivity transition.
type NetworkChanged struct {
	Online bool
}

// LoginChanged reports a sign-in or sign-out. UserID is empty on sign-out.
type LoginChanged struct {
	UserID string
}

func (NetworkChanged) isEvent() {}
func (LoginChanged) isEvent()   {}

// CurrentSession builds a Session from the auth collaborator.
func CurrentSession(auth Auth) Session {
	if auth == nil {
		return Session{}
	}
	uid, ok := auth.CurrentUserID()
	if !ok {
		return Session{}
	}
	return Session{UserID: uid}
}
