package rpc

import "sync"

// Controller is the per-call context a caller constructs before issuing a
// CallMethod: endpoint (host/port), deadline (timeout), and — once the call
// finishes — its failure state.
type Controller struct {
	mu sync.Mutex

	host    string
	port    string
	timeout uint32 // milliseconds; 0 = no deadline

	failed    bool
	cancelled bool
	errorText string
	errorCode Status
}

// NewController builds a Controller for a call to host:port with the given
// timeout in milliseconds (0 disables the deadline).
func NewController(host, port string, timeoutMillis uint32) *Controller {
	c := &Controller{host: host, port: port, timeout: timeoutMillis}
	c.errorCode = SUCCEED
	return c
}

// Reset clears failure/cancellation state, as if the Controller were fresh.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed = false
	c.cancelled = false
	c.errorText = ""
	c.errorCode = SUCCEED
}

func (c *Controller) Failed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failed
}

func (c *Controller) ErrorText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errorText
}

func (c *Controller) ErrorCode() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errorCode
}

// SetFailed marks the call failed with reason, defaulting the error code to
// FAILED.
func (c *Controller) SetFailed(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed = true
	c.errorText = reason
	c.errorCode = FAILED
}

// SetFailedCode marks the call failed with reason, then overrides the
// error code.
func (c *Controller) SetFailedCode(reason string, status Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed = true
	c.errorText = reason
	c.errorCode = status
}

// StartCancel sets the advisory cancellation flag. The core does not act
// on this — it exists for an embedder to wire into its own cancellation
// token if it wants to extend the engine.
func (c *Controller) StartCancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = true
}

func (c *Controller) IsCanceled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

func (c *Controller) Host() string { return c.host }
func (c *Controller) Port() string { return c.port }

func (c *Controller) SetHost(host string) { c.host = host }
func (c *Controller) SetPort(port string) { c.port = port }

func (c *Controller) Timeout() uint32          { return c.timeout }
func (c *Controller) SetTimeout(millis uint32) { c.timeout = millis }

// Endpoint is host + ":" + port, the string Channel keys its Connection map
// by.
func (c *Controller) Endpoint() string {
	return c.host + ":" + c.port
}
