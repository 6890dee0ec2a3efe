package domain

// RequestContext carries the client-facing metadata of the request that
// triggered a state transition. Handlers build it once and pass it down
// explicitly; services never reach back into the HTTP layer.
type RequestContext struct {
	IPAddress string
	UserAgent string
}
