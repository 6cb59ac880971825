package device

import "github.com/ardnew/usbctrld/pkg"

// EP0RxState guards concurrent access to a context's EP0 OUT buffer
// between the hardware driver (producer) and the request handler
// (consumer). It follows a strict cycle: no transition may skip a step.
type EP0RxState uint8

// EP0 RX buffer states: the cycle runs free -> busy -> ready -> free,
// and no transition may skip a step.
const (
	EP0RxNoStorage EP0RxState = iota // no buffer allocated yet (before Initialize)
	EP0RxFree                        // buffer available, no pending OUT data stage
	EP0RxBusy                        // driver is writing into the buffer
	EP0RxReady                       // data is complete, dispatcher may consume it
)

func (s EP0RxState) String() string {
	switch s {
	case EP0RxNoStorage:
		return "no-storage"
	case EP0RxFree:
		return "free"
	case EP0RxBusy:
		return "busy"
	case EP0RxReady:
		return "ready"
	default:
		return "unknown"
	}
}

// armEP0Rx moves the buffer from free to busy, marking it as the
// driver's to fill. Called by the dispatcher when it arms an OUT data
// stage.
func (ctx *Context) armEP0Rx() error {
	ctx.mutex.Lock()
	defer ctx.mutex.Unlock()
	if ctx.ep0RxState != EP0RxFree {
		return pkg.ErrInvalidState
	}
	ctx.ep0RxState = EP0RxBusy
	return nil
}

// completeEP0Rx moves the buffer from busy to ready, reporting how many
// bytes the driver deposited. Called from the driver's data-completion
// callback (on_out_complete for EP0).
func (ctx *Context) completeEP0Rx(n int) error {
	ctx.mutex.Lock()
	defer ctx.mutex.Unlock()
	if ctx.ep0RxState != EP0RxBusy {
		return pkg.ErrInvalidState
	}
	ctx.ep0RxLen = n
	ctx.ep0RxState = EP0RxReady
	return nil
}

// consumeEP0Rx moves the buffer from ready back to free and returns the
// slice of data the driver deposited. Called by the dispatcher once it
// has read the completed OUT data stage.
func (ctx *Context) consumeEP0Rx() ([]byte, error) {
	ctx.mutex.Lock()
	defer ctx.mutex.Unlock()
	if ctx.ep0RxState != EP0RxReady {
		return nil, pkg.ErrInvalidState
	}
	data := ctx.ep0RxBuffer[:ctx.ep0RxLen]
	ctx.ep0RxState = EP0RxFree
	return data, nil
}

// ep0RxStatus returns the current EP0 RX buffer state.
func (ctx *Context) ep0RxStatus() EP0RxState {
	ctx.mutex.RLock()
	defer ctx.mutex.RUnlock()
	return ctx.ep0RxState
}
