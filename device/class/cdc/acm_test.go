package cdc

import (
	"testing"

	"github.com/ardnew/usbctrld/device"
)

func newSetup(reqType, req uint8, value, index, length uint16) *device.SetupPacket {
	return &device.SetupPacket{
		RequestType: reqType,
		Request:     req,
		Value:       value,
		Index:       index,
		Length:      length,
	}
}

func TestHandleGetLineCodingWritesIntoData(t *testing.T) {
	a := NewACM()
	a.lineCoding = LineCoding{DTERate: 9600, CharFormat: StopBits2, ParityType: ParityEven, DataBits: 7}

	setup := newSetup(
		device.RequestDirectionDeviceToHost|device.RequestTypeClass|device.RequestRecipientInterface,
		RequestGetLineCoding, 0, 0, LineCodingSize)

	data := make([]byte, LineCodingSize)
	result, n, err := a.HandleSetup(nil, setup, data)
	if err != nil {
		t.Fatalf("HandleSetup() error = %v", err)
	}
	if result != device.HandledWithData || n != LineCodingSize {
		t.Fatalf("HandleSetup() = (%v, %d), want (%v, %d)", result, n, device.HandledWithData, LineCodingSize)
	}

	var got LineCoding
	if !ParseLineCoding(data, &got) {
		t.Fatalf("ParseLineCoding(%v) failed", data)
	}
	if got != a.lineCoding {
		t.Errorf("round-tripped LineCoding = %+v, want %+v", got, a.lineCoding)
	}
}

func TestHandleSetLineCodingParsesHostPayload(t *testing.T) {
	a := NewACM()

	var gotLineCoding LineCoding
	a.SetOnLineCodingChange(func(lc *LineCoding) { gotLineCoding = *lc })

	want := LineCoding{DTERate: 57600, CharFormat: StopBits1, ParityType: ParityOdd, DataBits: 8}
	payload := make([]byte, LineCodingSize)
	want.MarshalTo(payload)

	setup := newSetup(
		device.RequestDirectionHostToDevice|device.RequestTypeClass|device.RequestRecipientInterface,
		RequestSetLineCoding, 0, 0, LineCodingSize)

	result, _, err := a.HandleSetup(nil, setup, payload)
	if err != nil {
		t.Fatalf("HandleSetup() error = %v", err)
	}
	if result != device.HandledNoData {
		t.Fatalf("HandleSetup() result = %v, want %v", result, device.HandledNoData)
	}
	if gotLineCoding != want {
		t.Errorf("onLineCodingChange got %+v, want %+v", gotLineCoding, want)
	}
	if a.LineCoding() != want {
		t.Errorf("LineCoding() = %+v, want %+v", a.LineCoding(), want)
	}
}

func TestHandleSetLineCodingRejectsShortPayload(t *testing.T) {
	a := NewACM()

	setup := newSetup(
		device.RequestDirectionHostToDevice|device.RequestTypeClass|device.RequestRecipientInterface,
		RequestSetLineCoding, 0, 0, 3)

	_, _, err := a.HandleSetup(nil, setup, make([]byte, 3))
	if err == nil {
		t.Fatal("HandleSetup() with short payload error = nil, want non-nil")
	}
}
