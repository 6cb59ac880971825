// Package main provides a composite HID+CDC-ACM USB device demo using the
// FIFO HAL.
//
// This demo declares a single device carrying two functions: a boot
// keyboard (interface 0) and a CDC-ACM virtual serial port (interfaces 1
// and 2, grouped under an interface association descriptor). It uses the
// FIFO-based HAL to communicate with a host process running in parallel.
//
// Usage:
//
//	go run . [options] /path/to/bus-dir
//
// The bus directory is shared with the host process. The device creates
// its own subdirectory (device-{uuid}/) for USB communication via named pipes.
//
// Options:
//
//	-v                         Enable verbose (debug) logging
//	-json                      Use JSON log format
//	-profile path              Write a CPU profile to path on exit (requires the "profile" build tag to capture samples)
//	-enum-timeout duration     Timeout for enumeration (default: 10s)
//	-transfer-timeout duration Timeout for data transfers (default: 5s)
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardnew/usbctrld/device"
	"github.com/ardnew/usbctrld/device/class/cdc"
	"github.com/ardnew/usbctrld/device/class/hid"
	"github.com/ardnew/usbctrld/device/hal/fifo"
	"github.com/ardnew/usbctrld/pkg"
	"github.com/ardnew/usbctrld/pkg/prof"
)

// component identifies this executable for structured logging.
const component = pkg.ComponentDevice

// IAD function class/subclass/protocol for the device descriptor, per the
// USB IAD ECN: a composite device signals "look at each association" by
// wearing this triple at the device level instead of a real class.
const (
	iadDeviceSubClass = 0x02
	iadDeviceProtocol = 0x01
)

// Boot keyboard report descriptor (standard 8-byte report)
var keyboardReportDescriptor = []byte{
	0x05, 0x01, // Usage Page (Generic Desktop)
	0x09, 0x06, // Usage (Keyboard)
	0xA1, 0x01, // Collection (Application)
	0x05, 0x07, //   Usage Page (Key Codes)
	0x19, 0xE0, //   Usage Minimum (224)
	0x29, 0xE7, //   Usage Maximum (231)
	0x15, 0x00, //   Logical Minimum (0)
	0x25, 0x01, //   Logical Maximum (1)
	0x75, 0x01, //   Report Size (1)
	0x95, 0x08, //   Report Count (8)
	0x81, 0x02, //   Input (Data, Variable, Absolute) - Modifier byte
	0x95, 0x01, //   Report Count (1)
	0x75, 0x08, //   Report Size (8)
	0x81, 0x01, //   Input (Constant) - Reserved byte
	0x95, 0x06, //   Report Count (6)
	0x75, 0x08, //   Report Size (8)
	0x15, 0x00, //   Logical Minimum (0)
	0x25, 0x65, //   Logical Maximum (101)
	0x05, 0x07, //   Usage Page (Key Codes)
	0x19, 0x00, //   Usage Minimum (0)
	0x29, 0x65, //   Usage Maximum (101)
	0x81, 0x00, //   Input (Data, Array) - Key array (6 keys)
	0xC0, // End Collection
}

func main() {
	verbose := flag.Bool("v", false, "enable verbose (debug) logging")
	jsonLog := flag.Bool("json", false, "use JSON log format")
	profilePath := flag.String("profile", "", "write a CPU profile to this path on exit")
	enumTimeout := flag.Duration("enum-timeout", 10*time.Second, "timeout for enumeration")
	transferTimeout := flag.Duration("transfer-timeout", 5*time.Second, "timeout for data transfers")
	flag.Parse()

	if flag.NArg() < 1 {
		pkg.LogError(component, "missing bus directory argument",
			"usage", "softusbd [options] <bus-dir>")
		os.Exit(1)
	}

	busDir := flag.Arg(0)

	if *verbose {
		pkg.SetLogLevel(slog.LevelDebug)
	}
	if *jsonLog {
		pkg.SetLogFormat(pkg.LogFormatJSON)
	}

	if *profilePath != "" {
		if err := prof.StartCPU(*profilePath); err != nil {
			pkg.LogError(component, "failed to start CPU profile", "error", err)
			os.Exit(1)
		}
		defer prof.StopCPU()
	}

	fifoHAL := fifo.New(busDir)

	goCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dev, err := device.Declare(fifoHAL)
	if err != nil {
		pkg.LogError(component, "failed to declare device", "error", err)
		os.Exit(1)
	}

	var mfrBuf, prodBuf, serialBuf [64]byte
	hooks := device.Hooks{
		ConfigurationSet: func(*device.Context, uint8) {},
		ResetReceived:    func(*device.Context) {},
	}
	if err := dev.Initialize(&device.DeviceDescriptor{
		Length:            device.DeviceDescriptorSize,
		DescriptorType:    device.DescriptorTypeDevice,
		USBVersion:        0x0200,
		DeviceClass:       device.ClassMisc,
		DeviceSubClass:    iadDeviceSubClass,
		DeviceProtocol:    iadDeviceProtocol,
		MaxPacketSize0:    64,
		VendorID:          0x1234,
		ProductID:         0x567A,
		ManufacturerIndex: 1,
		ProductIndex:      2,
		SerialNumberIndex: 3,
		NumConfigurations: 1,
	}, hooks); err != nil {
		pkg.LogError(component, "failed to initialize device", "error", err)
		os.Exit(1)
	}
	dev.SetStringFrom(1, mfrBuf[:], "softusb example")
	dev.SetStringFrom(2, prodBuf[:], "Composite Keyboard+Serial")
	dev.SetStringFrom(3, serialBuf[:], "13572468")

	config := device.NewConfiguration(1)
	if err := dev.AddConfiguration(config); err != nil {
		pkg.LogError(component, "failed to add configuration", "error", err)
		os.Exit(1)
	}

	// Interface 0: boot keyboard.
	keyboard := hid.New(keyboardReportDescriptor)
	if err := dev.DeclareInterface(1, keyboard.BuildInterface(0, hid.SubclassBoot, hid.ProtocolKeyboard)); err != nil {
		pkg.LogError(component, "failed to declare HID interface", "error", err)
		os.Exit(1)
	}
	if err := keyboard.AttachToInterface(dev, 1, 0); err != nil {
		pkg.LogError(component, "failed to attach HID driver", "error", err)
		os.Exit(1)
	}

	// Interfaces 1-2: CDC-ACM control + data, grouped by an interface
	// association since the device descriptor carries the IAD triple above
	// rather than a real class.
	acm := cdc.NewACM()
	if err := dev.DeclareInterface(1, acm.BuildControlInterface(1)); err != nil {
		pkg.LogError(component, "failed to declare CDC control interface", "error", err)
		os.Exit(1)
	}
	if err := dev.DeclareInterface(1, acm.BuildDataInterface(2)); err != nil {
		pkg.LogError(component, "failed to declare CDC data interface", "error", err)
		os.Exit(1)
	}
	if err := acm.AttachToInterfaces(dev, 1, 1, 2); err != nil {
		pkg.LogError(component, "failed to attach ACM driver", "error", err)
		os.Exit(1)
	}
	if err := config.AddAssociation(&device.InterfaceAssociation{
		FirstInterface:   1,
		InterfaceCount:   2,
		FunctionClass:    cdc.ClassCDC,
		FunctionSubClass: cdc.SubclassACM,
		FunctionProtocol: cdc.ProtocolAT,
	}); err != nil {
		pkg.LogError(component, "failed to add interface association", "error", err)
		os.Exit(1)
	}

	stack := device.NewStack(dev, fifoHAL)
	keyboard.SetStack(stack)
	acm.SetStack(stack)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		pkg.LogInfo(component, "shutting down")
		cancel()
	}()

	pkg.LogInfo(component, "starting composite device", "busDir", busDir)

	if err := stack.Start(goCtx); err != nil {
		pkg.LogError(component, "failed to start device", "error", err)
		os.Exit(1)
	}
	defer stack.Stop()

	pkg.LogInfo(component, "waiting for host connection")
	connectCtx, connectCancel := context.WithTimeout(goCtx, *enumTimeout)
	if err := stack.WaitConnect(connectCtx); err != nil {
		connectCancel()
		pkg.LogError(component, "connection failed", "error", err)
		os.Exit(1)
	}
	connectCancel()
	pkg.LogInfo(component, "host connected")

	// CDC-ACM echo runs on its own goroutine so the main loop is free to
	// drive the keyboard on its own cadence.
	go runSerialEcho(goCtx, acm, *transferTimeout)

	runKeyboardDemo(goCtx, keyboard, *transferTimeout)
}

// runSerialEcho echoes every byte the host writes to the CDC-ACM data
// endpoint back to it, until ctx is done.
func runSerialEcho(ctx context.Context, acm *cdc.ACM, transferTimeout time.Duration) {
	var buf [64]byte
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		readCtx, readCancel := context.WithTimeout(ctx, transferTimeout)
		n, err := acm.Read(readCtx, buf[:])
		readCancel()
		if err != nil {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if n == 0 {
			continue
		}

		pkg.LogDebug(component, "serial data received", "bytes", n)

		writeCtx, writeCancel := context.WithTimeout(ctx, transferTimeout)
		_, err = acm.Write(writeCtx, buf[:n])
		writeCancel()
		if err != nil {
			pkg.LogError(component, "serial write error", "error", err)
		}
	}
}

// runKeyboardDemo types a fixed phrase through the HID interface on a
// repeating cadence, until ctx is done.
func runKeyboardDemo(ctx context.Context, keyboard *hid.HID, transferTimeout time.Duration) {
	typeString := []byte("Hello\n")
	idx := 0

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	// Boot keyboard report format: [modifiers, reserved, key1..key6]
	var report [8]byte

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if idx >= len(typeString) {
				idx = 0
				time.Sleep(2 * time.Second)
				continue
			}

			ch := typeString[idx]
			keycode := charToKeycode(ch)

			report[0] = 0x00
			if needsShift(ch) {
				report[0] = 0x02 // Left Shift
			}
			report[1] = 0x00
			report[2] = keycode
			report[3], report[4], report[5], report[6], report[7] = 0, 0, 0, 0, 0

			sendCtx, sendCancel := context.WithTimeout(ctx, transferTimeout)
			if err := keyboard.SendReport(sendCtx, report[:]); err != nil {
				pkg.LogError(component, "SendReport error", "error", err)
			}
			sendCancel()

			time.Sleep(50 * time.Millisecond)

			for i := range report {
				report[i] = 0
			}
			releaseCtx, releaseCancel := context.WithTimeout(ctx, transferTimeout)
			if err := keyboard.SendReport(releaseCtx, report[:]); err != nil {
				pkg.LogError(component, "SendReport error", "error", err)
			}
			releaseCancel()

			pkg.LogInfo(component, "typed", "char", string(ch))
			idx++
		}
	}
}

func charToKeycode(ch byte) uint8 {
	switch {
	case ch >= 'a' && ch <= 'z':
		return hid.KeyA + (ch - 'a')
	case ch >= 'A' && ch <= 'Z':
		return hid.KeyA + (ch - 'A')
	case ch >= '1' && ch <= '9':
		return hid.Key1 + (ch - '1')
	case ch == '0':
		return hid.Key0
	case ch == '\n' || ch == '\r':
		return hid.KeyEnter
	case ch == ' ':
		return hid.KeySpace
	default:
		return 0
	}
}

func needsShift(ch byte) bool {
	return ch >= 'A' && ch <= 'Z'
}
