package authclient

// SessionTerminator is notified once per failed refresh episode. It should
// clear application session state and send the user back to login.
//
// OnSessionInvalid runs on the refresh goroutine after the credentials have
// been removed and before queued callers are rejected. Requests it sends
// through the same Client must carry WithoutRefresh, or their 401 starts a new
// refresh episode that ends in another OnSessionInvalid.
type SessionTerminator interface {
	OnSessionInvalid()
}

// SessionTerminatorFunc adapts a function to SessionTerminator.
type SessionTerminatorFunc func()

func (f SessionTerminatorFunc) OnSessionInvalid() {
	f()
}
