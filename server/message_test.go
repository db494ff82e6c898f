package server

import (
	"encoding/json"
	"strings"
	"testing"

	"evhub/ocpp/core"
	"evhub/utility"
)

func parseFrame(t *testing.T, frame string) []interface{} {
	t.Helper()
	data, err := utility.ParseJson([]byte(frame))
	if err != nil {
		t.Fatalf("parsing frame: %v", err)
	}
	return data
}

func TestParseBootNotificationCall(t *testing.T) {
	frame := `[2,"msg-1","BootNotification",{"chargePointVendor":"acme","chargePointModel":"one"}]`
	request, err := ParseRequest(parseFrame(t, frame))
	if err != nil {
		t.Fatalf("parse request: %v", err)
	}
	if request.UniqueId != "msg-1" {
		t.Errorf("expected unique id msg-1, got %s", request.UniqueId)
	}
	boot, ok := request.Payload.(*core.BootNotificationRequest)
	if !ok {
		t.Fatalf("expected BootNotificationRequest, got %T", request.Payload)
	}
	if boot.ChargePointVendor != "acme" || boot.ChargePointModel != "one" {
		t.Errorf("payload fields lost: %+v", boot)
	}
}

func TestParseMeterValuesCall(t *testing.T) {
	frame := `[2,"m-7","MeterValues",{"connectorId":1,"meterValue":[{"sampledValue":[{"value":"4600","measurand":"Energy.Active.Import.Register"}]}]}]`
	request, err := ParseRequest(parseFrame(t, frame))
	if err != nil {
		t.Fatalf("parse request: %v", err)
	}
	meter, ok := request.Payload.(*core.MeterValuesRequest)
	if !ok {
		t.Fatalf("expected MeterValuesRequest, got %T", request.Payload)
	}
	if len(meter.MeterValue) != 1 || len(meter.MeterValue[0].SampledValue) != 1 {
		t.Fatalf("sampled values lost: %+v", meter)
	}
	if meter.MeterValue[0].SampledValue[0].Value != "4600" {
		t.Errorf("unexpected sampled value: %+v", meter.MeterValue[0].SampledValue[0])
	}
}

func TestParseRequestRejectsUnknownAction(t *testing.T) {
	frame := `[2,"x","DataTransfer",{}]`
	if _, err := ParseRequest(parseFrame(t, frame)); err == nil {
		t.Fatal("expected error for unsupported action")
	}
}

func TestParseRequestRejectsShortFrame(t *testing.T) {
	frame := `[2,"x","Heartbeat"]`
	if _, err := ParseRequest(parseFrame(t, frame)); err == nil {
		t.Fatal("expected error for short frame")
	}
}

func TestMessageTypeDetection(t *testing.T) {
	cases := []struct {
		frame    string
		expected CallType
	}{
		{`[2,"a","Heartbeat",{}]`, CallTypeRequest},
		{`[3,"a",{}]`, CallTypeResult},
		{`[4,"a","code","desc",{}]`, CallTypeError},
	}
	for _, c := range cases {
		got, err := MessageType(parseFrame(t, c.frame))
		if err != nil {
			t.Fatalf("frame %s: %v", c.frame, err)
		}
		if got != c.expected {
			t.Errorf("frame %s: expected type %v, got %v", c.frame, c.expected, got)
		}
	}
	if _, err := MessageType(parseFrame(t, `[9,"a",{}]`)); err == nil {
		t.Error("expected error for unsupported type id")
	}
}

func TestCallMarshalling(t *testing.T) {
	call := CreateCall(core.NewRemoteStopTransactionRequest(42))
	data, err := call.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal call: %v", err)
	}
	frame := string(data)
	if !strings.HasPrefix(frame, `[2,"`) {
		t.Errorf("call frame must start with type 2: %s", frame)
	}
	if !strings.Contains(frame, `"RemoteStopTransaction"`) {
		t.Errorf("call frame must carry the action: %s", frame)
	}
	if !strings.Contains(frame, `"transactionId":42`) {
		t.Errorf("call frame must carry the payload: %s", frame)
	}
}

func TestCallResultMarshalling(t *testing.T) {
	result := CreateCallResult(core.NewHeartbeatResponse(nil), "msg-9")
	data, err := result.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	var frame []interface{}
	if err = json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("result frame is not a json array: %v", err)
	}
	if len(frame) != 3 {
		t.Fatalf("result frame must have 3 elements, got %d", len(frame))
	}
	if frame[0].(float64) != 3 || frame[1].(string) != "msg-9" {
		t.Errorf("unexpected result envelope: %v", frame)
	}
}

func TestParseResult(t *testing.T) {
	frame := `[3,"call-1",{"status":"Rejected"}]`
	result, err := ParseResult(parseFrame(t, frame))
	if err != nil {
		t.Fatalf("parse result: %v", err)
	}
	if result.UniqueId != "call-1" {
		t.Errorf("expected call-1, got %s", result.UniqueId)
	}
	var payload struct {
		Status string `json:"status"`
	}
	if err = json.Unmarshal(result.Payload, &payload); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if payload.Status != "Rejected" {
		t.Errorf("expected Rejected, got %s", payload.Status)
	}
}
