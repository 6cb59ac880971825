package device

import (
	"fmt"

	"github.com/ardnew/usbctrld/pkg"
)

// State is an element of the USB 2.0 device state automaton, plus the
// suspended counterpart of every non-attached state and an invalid
// sentinel used only as an error marker — never stored in a context.
type State uint8

// Device states as defined in the USB 2.0 specification.
const (
	StateAttached State = iota
	StatePowered
	StateDefault
	StateAddress
	StateConfigured
	StateSuspendedPower
	StateSuspendedDefault
	StateSuspendedAddress
	StateSuspendedConfigured
	StateInvalid // sentinel; never written to a context
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateAttached:
		return "attached"
	case StatePowered:
		return "powered"
	case StateDefault:
		return "default"
	case StateAddress:
		return "address"
	case StateConfigured:
		return "configured"
	case StateSuspendedPower:
		return "suspended_power"
	case StateSuspendedDefault:
		return "suspended_default"
	case StateSuspendedAddress:
		return "suspended_address"
	case StateSuspendedConfigured:
		return "suspended_configured"
	default:
		return fmt.Sprintf("invalid(%d)", uint8(s))
	}
}

// Event is a driver- or dispatcher-originated occurrence that the
// automaton may react to.
type Event uint8

// Automaton events.
const (
	EventHubConfigured Event = iota
	EventBusInactive
	EventBusActive
	EventReset
	EventHubReset
	EventHubDeconfigured
	EventAddressAssigned
	EventDeviceConfigured
	EventDeviceDeconfigured
)

// noTransition is the target-state sentinel meaning "no transition
// defined for this (state, event) pair".
const noTransition = StateInvalid

// maxTransitionsPerState bounds each automaton row. Rows declare only
// their real entries; Go zero-pads the remainder of the array, which is
// why NextState walks the row with a "next == noTransition" break
// rather than a fixed count.
const maxTransitionsPerState = 10

type transition struct {
	event Event
	next  State
}

// automaton is the transition table, one row per state, each row
// holding up to maxTransitionsPerState (event, next-state) pairs
// followed by zero-valued padding (next == StateAttached(0), which by
// construction never collides with a real entry because every row's
// real transitions are listed before any padding and terminate with an
// explicit noTransition guard entry). Both suspended_power->default and
// suspended_default->default are kept as distinct edges even though
// both are reachable via a bare reset, since a suspended state can also
// be forced back to default directly without passing through bus-active
// first.
var automaton = map[State][maxTransitionsPerState]transition{
	StateAttached: {
		{EventHubConfigured, StatePowered},
		{0, noTransition},
	},
	StatePowered: {
		{EventBusInactive, StateSuspendedPower},
		{EventHubReset, StateAttached},
		{EventHubDeconfigured, StateAttached},
		{EventReset, StateDefault},
		{0, noTransition},
	},
	StateDefault: {
		{EventAddressAssigned, StateAddress},
		{EventBusInactive, StateSuspendedDefault},
		{EventReset, StateDefault},
		{0, noTransition},
	},
	StateAddress: {
		{EventDeviceConfigured, StateConfigured},
		{EventBusInactive, StateSuspendedAddress},
		{EventReset, StateDefault},
		{0, noTransition},
	},
	StateConfigured: {
		{EventDeviceDeconfigured, StateAddress},
		{EventBusInactive, StateSuspendedConfigured},
		{EventReset, StateDefault},
		{0, noTransition},
	},
	StateSuspendedPower: {
		{EventBusActive, StatePowered},
		{EventReset, StateDefault},
		{0, noTransition},
	},
	StateSuspendedDefault: {
		{EventBusActive, StateDefault},
		{EventReset, StateDefault},
		{0, noTransition},
	},
	StateSuspendedAddress: {
		{EventBusActive, StateAddress},
		{EventReset, StateDefault},
		{0, noTransition},
	},
	StateSuspendedConfigured: {
		{EventBusActive, StateConfigured},
		{EventReset, StateDefault},
		{0, noTransition},
	},
}

// NextState returns the target state for (current, event), or the
// invalid sentinel when no transition is defined. It is a pure function
// over the automaton table: it never touches a context.
func NextState(current State, ev Event) State {
	row, ok := automaton[current]
	if !ok {
		return noTransition
	}
	for _, t := range row {
		if t.next == noTransition {
			break
		}
		if t.event == ev {
			return t.next
		}
	}
	return noTransition
}

// IsValidTransition reports whether ev has a defined transition from
// current. Equivalent to NextState(current, ev) != invalid sentinel.
func IsValidTransition(current State, ev Event) bool {
	return NextState(current, ev) != noTransition
}

// setState is the single mutator of a context's state field. It rejects
// the invalid sentinel and a nil context, writes the new state, then
// notifies any registered state-change callback so interrupt-context
// readers (Context.State) observe a coherent value — realized with
// atomic.Uint32 instead of a mutex so the write never blocks a
// concurrent reader.
//
// setState does not itself validate that new is reachable from the
// current state. Of its seven callers, StartDevice, the
// SET_ADDRESS/SET_CONFIGURATION handlers, and the bus-inactive/
// bus-active event handlers consult NextState first; Reset and
// StopDevice force their target state without a table lookup.
func setState(ctx *Context, newState State) error {
	if ctx == nil {
		return pkg.ErrInvalidParameter
	}
	if newState >= StateInvalid {
		return pkg.ErrInvalidParameter
	}

	old := State(ctx.stateVal.Load())
	ctx.stateVal.Store(uint32(newState))

	if old != newState {
		pkg.LogDebug(pkg.ComponentDevice, "state transition",
			"from", old.String(), "to", newState.String())
		ctx.mutex.RLock()
		cb := ctx.onStateChange
		ctx.mutex.RUnlock()
		if cb != nil {
			cb(old, newState)
		}
	}
	return nil
}

// State returns the context's current automaton state. Safe to call
// from interrupt context: it is an atomic load paired with setState's
// atomic store.
func (ctx *Context) State() State {
	return State(ctx.stateVal.Load())
}
