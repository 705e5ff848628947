package rpc

import "time"

// call tracks one in-flight request on a Connection: the request id used to
// correlate its response, the caller's buffers, and the channel the mailbox
// goroutine closes when the call is settled one way or another (response
// arrived, connection died, or the timer fired first).
type call struct {
	id   uint64
	name string

	request  Message
	response Message

	controller *Controller

	timer *time.Timer

	done    chan struct{}
	err     error
	settled bool // guards against double-settle (response racing the timer)
}

func newCall(id uint64, name string, request, response Message, controller *Controller) *call {
	return &call{
		id:         id,
		name:       name,
		request:    request,
		response:   response,
		controller: controller,
		done:       make(chan struct{}),
	}
}

// settle records the call's outcome and wakes its waiter. Must only be
// invoked from the owning Connection's mailbox goroutine.
func (c *call) settle(err error) {
	if c.settled {
		return
	}
	c.settled = true
	if c.timer != nil {
		c.timer.Stop()
	}
	c.err = err
	close(c.done)
}
