package dbpool

// connRequest is the result sent to a waiting Acquire: either a leased
// connection or the error that prevented opening one.
type connRequest struct {
	conn *Conn
	err  error
}

// pendingRequest is a caller parked in the wait queue.
type pendingRequest struct {
	key uint64
	ch  chan connRequest // buffered, receives at most one value
}

// enqueueRequestLocked appends a new waiter to the back of the queue.
func (p *ConnPool) enqueueRequestLocked() *pendingRequest {
	req := &pendingRequest{
		key: p.nextRequestKeyLocked(),
		ch:  make(chan connRequest, 1),
	}
	p.connRequests = append(p.connRequests, req)
	return req
}

// nextRequestKeyLocked returns the next connection request key.
// It is assumed that nextRequest will not overflow.
func (p *ConnPool) nextRequestKeyLocked() uint64 {
	next := p.nextRequest
	p.nextRequest++
	return next
}

// popRequestLocked removes and returns the oldest waiter.
func (p *ConnPool) popRequestLocked() *pendingRequest {
	if len(p.connRequests) == 0 {
		return nil
	}
	req := p.connRequests[0]
	p.connRequests[0] = nil
	p.connRequests = p.connRequests[1:]
	return req
}

// removeRequestLocked drops req from the queue. It reports false if req was
// already served.
func (p *ConnPool) removeRequestLocked(req *pendingRequest) bool {
	for i, r := range p.connRequests {
		if r.key == req.key {
			copy(p.connRequests[i:], p.connRequests[i+1:])
			p.connRequests[len(p.connRequests)-1] = nil
			p.connRequests = p.connRequests[:len(p.connRequests)-1]
			return true
		}
	}
	return false
}
