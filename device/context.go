package device

import (
	"sync"
	"sync/atomic"

	"github.com/ardnew/usbctrld/device/hal"
	"github.com/ardnew/usbctrld/pkg"
)

// Hooks are the upper-layer callbacks a context must be given at
// Initialize time. A caller supplies them explicitly and Initialize
// panics if either is nil rather than silently operating without them.
type Hooks struct {
	// ConfigurationSet is invoked after SET_CONFIGURATION has moved the
	// context into the configured state, once the new configuration's
	// endpoints have been handed to the HAL.
	ConfigurationSet func(ctx *Context, value uint8)

	// ResetReceived is invoked whenever a bus reset event is delivered
	// to the context, after the automaton has already moved to the
	// default state.
	ResetReceived func(ctx *Context)
}

// Context is one USB device instance bound to a HAL. The state field is
// driven by the automaton in automaton.go instead of being written
// directly, and configuration/interface declaration goes through
// DeclareInterface so endpoint numbers can be assigned lazily.
type Context struct {
	devID uint32
	hal   hal.DeviceHAL

	Descriptor *DeviceDescriptor

	configurations     [MaxConfigurations]*Configuration
	configurationCount int
	activeConfig       *Configuration

	strings [MaxStrings][]byte

	stateVal atomic.Uint32 // State, accessed via setState/State
	address  uint8
	speed    Speed

	// pendingAddress holds a SET_ADDRESS value until the status stage
	// completes: the new address takes effect only after STATUS, not
	// immediately on SETUP.
	pendingAddress    uint8
	hasPendingAddress bool

	ep0 *Endpoint

	ep0RxBuffer [EP0BufferSize]byte
	ep0RxState  EP0RxState
	ep0RxLen    int

	// nextEndpoint is the lazy endpoint number allocator used by
	// DeclareInterface. IN and OUT endpoints draw from this one counter,
	// and it is not restarted for a second configuration.
	nextEndpoint uint8

	remoteWakeupEnabled bool

	hooks     Hooks
	hooksSet  bool
	mutex     sync.RWMutex

	onStateChange      func(old, new State)
	onSuspend          func()
	onResume           func()
	onReset            func()
	onSetAddress       func(address uint8)
	onSetConfiguration func(config uint8)
}

// registry is the process-wide table of declared contexts, a fixed-size
// array sized by MaxContexts. Declare takes the first free slot and
// Release clears it; slots are not indexed by HAL device ID.
var (
	registry      [MaxContexts]*Context
	registryMutex sync.Mutex
)

// Declare reserves a device ID from h and registers a new, empty
// context for it. The context is not usable for enumeration until
// Initialize is called.
func Declare(h hal.DeviceHAL) (*Context, error) {
	devID, err := h.AllocateDeviceID()
	if err != nil {
		return nil, err
	}

	registryMutex.Lock()
	defer registryMutex.Unlock()

	slot := -1
	for i, c := range registry {
		if c == nil {
			slot = i
			break
		}
	}
	if slot < 0 {
		_ = h.ReleaseDeviceID(devID)
		return nil, pkg.ErrNoMoreSlots
	}

	ctx := &Context{
		devID: devID,
		hal:   h,
		speed: SpeedHigh,
	}
	ctx.stateVal.Store(uint32(StateAttached))
	ctx.ep0RxState = EP0RxNoStorage
	registry[slot] = ctx

	pkg.LogDebug(pkg.ComponentDevice, "context declared", "devID", devID)
	return ctx, nil
}

// Release removes ctx from the registry and returns its device ID to
// the HAL. It does not stop the device; call StopDevice first if the
// device is running.
func (ctx *Context) Release() error {
	registryMutex.Lock()
	for i, c := range registry {
		if c == ctx {
			registry[i] = nil
			break
		}
	}
	registryMutex.Unlock()

	ctx.mutex.Lock()
	defer ctx.mutex.Unlock()

	var lastErr error
	for idx := 0; idx < ctx.configurationCount; idx++ {
		if err := ctx.configurations[idx].Close(); err != nil {
			lastErr = err
		}
		ctx.configurations[idx] = nil
	}
	ctx.configurationCount = 0
	ctx.activeConfig = nil

	if err := ctx.hal.ReleaseDeviceID(ctx.devID); err != nil {
		lastErr = err
	}
	return lastErr
}

// Bind associates the context's device id with its driver resources. It
// is a pass-through to the HAL and does not touch automaton state,
// unlike StartDevice/StopDevice.
func (ctx *Context) Bind() error {
	return ctx.hal.Bind(ctx.devID)
}

// Unbind disassociates the context's device id from its driver
// resources, the inverse of Bind. It is a pass-through to the HAL and
// does not touch automaton state.
func (ctx *Context) Unbind() error {
	return ctx.hal.Unbind(ctx.devID)
}

// Initialize assigns the device descriptor and required upper-layer
// hooks. It must be called exactly once before StartDevice, and panics
// if either hook in hooks is nil: a context with no way to observe
// configuration changes or resets cannot safely enumerate.
func (ctx *Context) Initialize(desc *DeviceDescriptor, hooks Hooks) error {
	if desc == nil {
		return pkg.ErrInvalidParameter
	}
	if hooks.ConfigurationSet == nil || hooks.ResetReceived == nil {
		panic("device: Initialize requires non-nil ConfigurationSet and ResetReceived hooks")
	}

	ctx.mutex.Lock()
	defer ctx.mutex.Unlock()

	ctx.Descriptor = desc
	ctx.hooks = hooks
	ctx.hooksSet = true
	ctx.ep0 = &Endpoint{
		Dir:           EndpointDirectionOut,
		Attributes:    EndpointTypeControl,
		MaxPacketSize: uint16(desc.MaxPacketSize0),
	}
	ctx.ep0RxState = EP0RxFree
	ctx.nextEndpoint = 1

	return nil
}

// AddConfiguration registers a configuration descriptor under the
// context, as a prerequisite to declaring its interfaces.
func (ctx *Context) AddConfiguration(config *Configuration) error {
	ctx.mutex.Lock()
	defer ctx.mutex.Unlock()

	if ctx.configurationCount >= MaxConfigurations {
		return pkg.ErrNoMoreSlots
	}
	for idx := 0; idx < ctx.configurationCount; idx++ {
		if ctx.configurations[idx].Value == config.Value {
			return pkg.ErrBusy
		}
	}
	ctx.configurations[ctx.configurationCount] = config
	ctx.configurationCount++

	pkg.LogDebug(pkg.ComponentDevice, "configuration added", "value", config.Value)
	return nil
}

// GetConfiguration returns the configuration with the given value, or
// nil if none was registered.
func (ctx *Context) GetConfiguration(value uint8) *Configuration {
	ctx.mutex.RLock()
	defer ctx.mutex.RUnlock()
	for idx := 0; idx < ctx.configurationCount; idx++ {
		if ctx.configurations[idx].Value == value {
			return ctx.configurations[idx]
		}
	}
	return nil
}

// DeclareInterface registers iface under the configuration identified
// by configValue (creating a failure if that configuration was not
// already added via AddConfiguration), assigning lazy endpoint numbers
// to every endpoint iface declared via Interface.AddEndpoint. A
// dedicated interface must be the only interface in its configuration:
// DeclareInterface rejects a dedicated interface added alongside any
// other, in either order.
func (ctx *Context) DeclareInterface(configValue uint8, iface *Interface) error {
	config := ctx.GetConfiguration(configValue)
	if config == nil {
		return pkg.ErrInvalidParameter
	}

	if iface.Dedicated && config.NumInterfaces() > 0 {
		return pkg.ErrInvalidParameter
	}
	if !iface.Dedicated && config.NumInterfaces() > 0 {
		for _, other := range config.Interfaces() {
			if other.Dedicated {
				return pkg.ErrInvalidParameter
			}
		}
	}

	ctx.mutex.Lock()
	for _, ep := range iface.endpoints[:iface.endpointCount] {
		if ctx.nextEndpoint == 0 {
			ctx.mutex.Unlock()
			return pkg.ErrNoMoreSlots
		}
		ep.number = ctx.nextEndpoint
		ctx.nextEndpoint++
	}
	ctx.mutex.Unlock()

	return config.AddInterface(iface)
}

// ActiveConfiguration returns the currently active configuration, or
// nil if the context is not in the configured state.
func (ctx *Context) ActiveConfiguration() *Configuration {
	ctx.mutex.RLock()
	defer ctx.mutex.RUnlock()
	return ctx.activeConfig
}

// SetString sets a string descriptor from a pre-encoded descriptor. The
// data slice is stored by reference (not copied).
func (ctx *Context) SetString(index uint8, data []byte) {
	if index >= MaxStrings {
		return
	}
	ctx.mutex.Lock()
	defer ctx.mutex.Unlock()
	ctx.strings[index] = data
}

// SetStringFrom encodes a string as a USB string descriptor into buf
// and stores the resulting slice at the given index. Returns the
// number of bytes written.
func (ctx *Context) SetStringFrom(index uint8, buf []byte, s string) int {
	if index >= MaxStrings {
		return 0
	}
	n := StringDescriptorTo(buf, s)
	if n > 0 {
		ctx.mutex.Lock()
		ctx.strings[index] = buf[:n]
		ctx.mutex.Unlock()
	}
	return n
}

// SetLanguagesFrom encodes language IDs as a USB string descriptor into
// buf and stores the resulting slice at index 0.
func (ctx *Context) SetLanguagesFrom(buf []byte, langIDs ...uint16) int {
	n := LanguageDescriptorTo(buf, langIDs...)
	if n > 0 {
		ctx.mutex.Lock()
		ctx.strings[0] = buf[:n]
		ctx.mutex.Unlock()
	}
	return n
}

// GetString returns a string descriptor by index.
func (ctx *Context) GetString(index uint8) []byte {
	if index >= MaxStrings {
		return nil
	}
	ctx.mutex.RLock()
	defer ctx.mutex.RUnlock()
	return ctx.strings[index]
}

// Address returns the device's current bus address.
func (ctx *Context) Address() uint8 {
	ctx.mutex.RLock()
	defer ctx.mutex.RUnlock()
	return ctx.address
}

// Speed returns the negotiated connection speed.
func (ctx *Context) Speed() Speed {
	ctx.mutex.RLock()
	defer ctx.mutex.RUnlock()
	return ctx.speed
}

// SetSpeed records the connection speed negotiated by the HAL.
func (ctx *Context) SetSpeed(speed Speed) {
	ctx.mutex.Lock()
	defer ctx.mutex.Unlock()
	ctx.speed = speed
}

// ControlEndpoint returns the control endpoint (EP0).
func (ctx *Context) ControlEndpoint() *Endpoint {
	ctx.mutex.RLock()
	defer ctx.mutex.RUnlock()
	return ctx.ep0
}

// IsConfigured returns true if the context is in the configured state.
func (ctx *Context) IsConfigured() bool {
	return ctx.State() == StateConfigured
}

// IsSuspended returns true if the context is in any suspended state.
func (ctx *Context) IsSuspended() bool {
	switch ctx.State() {
	case StateSuspendedPower, StateSuspendedDefault, StateSuspendedAddress, StateSuspendedConfigured:
		return true
	default:
		return false
	}
}

// GetInterface returns an interface from the active configuration.
func (ctx *Context) GetInterface(number uint8) *Interface {
	ctx.mutex.RLock()
	config := ctx.activeConfig
	ctx.mutex.RUnlock()
	if config == nil {
		return nil
	}
	return config.GetInterface(number)
}

// GetEndpoint returns an endpoint from the active configuration, or the
// control endpoint if address names EP0.
func (ctx *Context) GetEndpoint(address uint8) *Endpoint {
	if address == 0 || address == 0x80 {
		return ctx.ControlEndpoint()
	}

	ctx.mutex.RLock()
	config := ctx.activeConfig
	ctx.mutex.RUnlock()
	if config == nil {
		return nil
	}
	for _, iface := range config.Interfaces() {
		if ep := iface.GetEndpoint(address); ep != nil {
			return ep
		}
	}
	return nil
}

// SetEndpointStall sets or clears the stall condition on an endpoint.
func (ctx *Context) SetEndpointStall(address uint8, stalled bool) error {
	ep := ctx.GetEndpoint(address)
	if ep == nil {
		return pkg.ErrInvalidEndpoint
	}
	ep.SetStall(stalled)
	return nil
}

// EnableRemoteWakeup sets the remote wakeup capability bit.
func (ctx *Context) EnableRemoteWakeup(enabled bool) {
	ctx.mutex.Lock()
	defer ctx.mutex.Unlock()
	ctx.remoteWakeupEnabled = enabled
}

// IsRemoteWakeupEnabled returns true if remote wakeup is enabled.
func (ctx *Context) IsRemoteWakeupEnabled() bool {
	ctx.mutex.RLock()
	defer ctx.mutex.RUnlock()
	return ctx.remoteWakeupEnabled
}

// DeviceStatus represents the device status bits reported by
// GET_STATUS(device).
type DeviceStatus uint16

// Device status bits.
const (
	DeviceStatusSelfPowered  DeviceStatus = 1 << 0
	DeviceStatusRemoteWakeup DeviceStatus = 1 << 1
)

// GetStatus returns the device status bits for GET_STATUS(device).
func (ctx *Context) GetStatus() DeviceStatus {
	ctx.mutex.RLock()
	defer ctx.mutex.RUnlock()

	var status DeviceStatus
	if ctx.activeConfig != nil && ctx.activeConfig.IsSelfPowered() {
		status |= DeviceStatusSelfPowered
	}
	if ctx.remoteWakeupEnabled {
		status |= DeviceStatusRemoteWakeup
	}
	return status
}

// SetOnStateChange sets the state transition callback.
func (ctx *Context) SetOnStateChange(cb func(old, new State)) {
	ctx.mutex.Lock()
	defer ctx.mutex.Unlock()
	ctx.onStateChange = cb
}

// SetOnSuspend sets the suspend callback.
func (ctx *Context) SetOnSuspend(cb func()) {
	ctx.mutex.Lock()
	defer ctx.mutex.Unlock()
	ctx.onSuspend = cb
}

// SetOnResume sets the resume callback.
func (ctx *Context) SetOnResume(cb func()) {
	ctx.mutex.Lock()
	defer ctx.mutex.Unlock()
	ctx.onResume = cb
}

// SetOnReset sets the reset callback.
func (ctx *Context) SetOnReset(cb func()) {
	ctx.mutex.Lock()
	defer ctx.mutex.Unlock()
	ctx.onReset = cb
}

// SetOnSetAddress sets the set-address callback.
func (ctx *Context) SetOnSetAddress(cb func(address uint8)) {
	ctx.mutex.Lock()
	defer ctx.mutex.Unlock()
	ctx.onSetAddress = cb
}

// SetOnSetConfiguration sets the set-configuration callback.
func (ctx *Context) SetOnSetConfiguration(cb func(config uint8)) {
	ctx.mutex.Lock()
	defer ctx.mutex.Unlock()
	ctx.onSetConfiguration = cb
}

// StartDevice transitions an attached context to the powered state and
// enables the HAL's bus connection, the control-plane equivalent of
// hub configuration. It requires Initialize to have already been
// called.
func (ctx *Context) StartDevice() error {
	ctx.mutex.RLock()
	initialized := ctx.hooksSet
	ctx.mutex.RUnlock()
	if !initialized {
		return pkg.ErrInvalidState
	}

	if ctx.State() != StateAttached {
		return pkg.ErrInvalidState
	}
	if !IsValidTransition(ctx.State(), EventHubConfigured) {
		return pkg.ErrInvalidState
	}
	if err := ctx.hal.Start(); err != nil {
		return err
	}
	return setState(ctx, NextState(ctx.State(), EventHubConfigured))
}

// StopDevice disables every endpoint of the active configuration and
// sets the context to the attached state directly, without consulting
// the automaton table, whatever state StopDevice was called from.
// Registered configurations and interfaces are left
// intact so the context can be restarted with StartDevice without
// redeclaring them.
func (ctx *Context) StopDevice() error {
	if err := ctx.hal.ConfigureEndpoints(nil); err != nil {
		pkg.LogWarn(pkg.ComponentDevice, "error disabling endpoints on stop", "error", err)
	}
	if err := ctx.hal.Stop(); err != nil {
		pkg.LogWarn(pkg.ComponentDevice, "error stopping HAL on stop", "error", err)
	}

	ctx.mutex.Lock()
	ctx.activeConfig = nil
	ctx.address = 0
	ctx.mutex.Unlock()

	return setState(ctx, StateAttached)
}
