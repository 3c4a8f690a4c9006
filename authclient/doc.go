// Package authclient attaches bearer credentials to outbound HTTP requests and
// recovers from expired access tokens with a single-flight refresh.
//
// Every request passes through the Authenticator, which sets the
// Authorization header from the credential store. A response classified as
// failure.Unauthorized is handed to the Coordinator. The first such response
// claims the refresh; later ones queue behind it. After a successful refresh
// the queue is replayed in arrival order with the new access token. After a
// failed refresh both credentials are removed, every queued request receives
// its own original Unauthorized failure, and the SessionTerminator is notified
// once.
//
// Client wires both hooks around a base http.RoundTripper:
//
//	client := authclient.New(store, refresher,
//		authclient.WithSessionTerminator(authclient.SessionTerminatorFunc(logout)),
//	)
//	resp, err := client.Do(req)
//
// Client.HTTPClient returns a stock *http.Client for code that expects one.
package authclient
