package device

import (
	"github.com/ardnew/usbctrld/device/hal"
	"github.com/ardnew/usbctrld/pkg"
)

// This file implements the event-glue operations the HAL driver and
// the standard-request dispatcher invoke to advance a context's
// automaton: Reset, SetConfiguration, Suspend, Resume, and the
// SET_ADDRESS staging pair. Each one except Reset consults NextState
// before calling setState; Reset sets the default state directly.

// Reset handles a bus reset event. It clears the device's address,
// deconfigures it, and sets the default state directly, without
// consulting the automaton table, regardless of which state the reset
// was received in (the attached row has no reset edge). Afterward it
// invokes the required ResetReceived hook.
func (ctx *Context) Reset() {
	ctx.mutex.Lock()
	ctx.address = 0
	ctx.activeConfig = nil
	ctx.remoteWakeupEnabled = false
	ctx.hasPendingAddress = false
	hook := ctx.hooks.ResetReceived
	cb := ctx.onReset
	ctx.mutex.Unlock()

	_ = setState(ctx, StateDefault)

	if cb != nil {
		cb()
	}
	if hook != nil {
		hook(ctx)
	}

	pkg.LogDebug(pkg.ComponentDevice, "context reset")
}

// stagePendingAddress records a SET_ADDRESS value to be applied once
// the control transfer's status stage completes.
func (ctx *Context) stagePendingAddress(address uint8) {
	ctx.mutex.Lock()
	ctx.pendingAddress = address
	ctx.hasPendingAddress = true
	ctx.mutex.Unlock()
}

// applyPendingAddress commits a staged SET_ADDRESS value to the HAL and
// the automaton. It is a no-op if no address is staged. Called by the
// dispatcher after the control transfer's STATUS stage completes.
func (ctx *Context) applyPendingAddress() error {
	ctx.mutex.Lock()
	if !ctx.hasPendingAddress {
		ctx.mutex.Unlock()
		return nil
	}
	address := ctx.pendingAddress
	ctx.hasPendingAddress = false
	ctx.address = address
	ctx.mutex.Unlock()

	if err := ctx.hal.SetAddress(address); err != nil {
		return err
	}

	pkg.LogDebug(pkg.ComponentDevice, "address assigned", "address", address)

	ctx.mutex.RLock()
	cb := ctx.onSetAddress
	ctx.mutex.RUnlock()
	if cb != nil {
		cb(address)
	}

	if address != 0 && ctx.State() == StateDefault {
		return setState(ctx, NextState(StateDefault, EventAddressAssigned))
	}
	return nil
}

// SetConfiguration handles SET_CONFIGURATION. value == 0 deconfigures
// the device and drives it back to the address state; a nonzero value
// selects that configuration, hands its endpoints to the HAL, and
// drives the automaton to the configured state.
func (ctx *Context) SetConfiguration(value uint8) error {
	state := ctx.State()
	if state != StateAddress && state != StateConfigured {
		return pkg.ErrInvalidState
	}

	if value == 0 {
		ctx.mutex.Lock()
		ctx.activeConfig = nil
		ctx.mutex.Unlock()
		if err := ctx.hal.ConfigureEndpoints(nil); err != nil {
			return err
		}
		if state == StateConfigured {
			return setState(ctx, NextState(StateConfigured, EventDeviceDeconfigured))
		}
		return nil
	}

	config := ctx.GetConfiguration(value)
	if config == nil {
		return pkg.ErrInvalidRequest
	}

	var endpointConfigs []hal.EndpointConfig
	for _, iface := range config.Interfaces() {
		for _, ep := range iface.Endpoints() {
			endpointConfigs = append(endpointConfigs, hal.EndpointConfig{
				Address:       ep.Address(),
				Attributes:    ep.Attributes,
				MaxPacketSize: ep.MaxPacketSize,
				Interval:      ep.Interval,
			})
		}
	}
	if err := ctx.hal.ConfigureEndpoints(endpointConfigs); err != nil {
		return err
	}

	ctx.mutex.Lock()
	ctx.activeConfig = config
	ctx.mutex.Unlock()

	if state == StateAddress {
		if err := setState(ctx, NextState(StateAddress, EventDeviceConfigured)); err != nil {
			return err
		}
	}

	ctx.mutex.RLock()
	hook := ctx.hooks.ConfigurationSet
	cb := ctx.onSetConfiguration
	ctx.mutex.RUnlock()
	if cb != nil {
		cb(value)
	}
	if hook != nil {
		hook(ctx, value)
	}

	pkg.LogDebug(pkg.ComponentDevice, "configuration set", "value", value)
	return nil
}

// Suspend handles a bus-inactive event, driving the automaton into the
// suspended counterpart of the current state.
func (ctx *Context) Suspend() error {
	state := ctx.State()
	if !IsValidTransition(state, EventBusInactive) {
		return pkg.ErrInvalidState
	}
	if err := setState(ctx, NextState(state, EventBusInactive)); err != nil {
		return err
	}

	ctx.mutex.RLock()
	cb := ctx.onSuspend
	ctx.mutex.RUnlock()
	if cb != nil {
		cb()
	}
	pkg.LogDebug(pkg.ComponentDevice, "context suspended")
	return nil
}

// Resume handles a bus-active event, driving the automaton out of the
// current suspended state back to its non-suspended counterpart.
func (ctx *Context) Resume() error {
	state := ctx.State()
	if !IsValidTransition(state, EventBusActive) {
		return pkg.ErrInvalidState
	}
	if err := setState(ctx, NextState(state, EventBusActive)); err != nil {
		return err
	}

	ctx.mutex.RLock()
	cb := ctx.onResume
	ctx.mutex.RUnlock()
	if cb != nil {
		cb()
	}
	pkg.LogDebug(pkg.ComponentDevice, "context resumed")
	return nil
}
