package server

import (
	"encoding/json"
	"fmt"
	"reflect"

	"evhub/ocpp"
	"evhub/ocpp/core"
	"evhub/utility"
)

type CallType int

const (
	CallTypeRequest CallType = 2
	CallTypeResult  CallType = 3
	CallTypeError   CallType = 4
)

func MessageType(data []interface{}) (CallType, error) {
	if len(data) < 3 {
		return 0, utility.Err("incompatible message structure")
	}
	rawTypeId, ok := data[0].(float64)
	if !ok {
		return 0, utility.Err("invalid message type id")
	}
	typeId := CallType(rawTypeId)
	switch typeId {
	case CallTypeRequest, CallTypeResult, CallTypeError:
		return typeId, nil
	}
	return 0, fmt.Errorf("unsupported message type: %v", typeId)
}

// Call An OCPP-J Call message, an outbound request to a charge point.
type Call struct {
	TypeId   CallType
	UniqueId string
	Payload  ocpp.Request
}

func (call *Call) MarshalJSON() ([]byte, error) {
	fields := make([]interface{}, 4)
	fields[0] = int(call.TypeId)
	fields[1] = call.UniqueId
	fields[2] = call.Payload.GetFeatureName()
	fields[3] = call.Payload
	return json.Marshal(fields)
}

func CreateCall(request ocpp.Request) *Call {
	return &Call{
		TypeId:   CallTypeRequest,
		UniqueId: utility.NewUUID(),
		Payload:  request,
	}
}

// CallResult An OCPP-J CallResult message, containing an OCPP Response.
type CallResult struct {
	TypeId   CallType
	UniqueId string
	Payload  ocpp.Response
}

func (callResult *CallResult) MarshalJSON() ([]byte, error) {
	fields := make([]interface{}, 3)
	fields[0] = int(callResult.TypeId)
	fields[1] = callResult.UniqueId
	fields[2] = callResult.Payload
	return json.Marshal(fields)
}

func CreateCallResult(confirmation ocpp.Response, uniqueId string) *CallResult {
	return &CallResult{
		TypeId:   CallTypeResult,
		UniqueId: uniqueId,
		Payload:  confirmation,
	}
}

type CallRequest struct {
	TypeId   CallType
	UniqueId string
	feature  string
	Payload  ocpp.Request
}

func (callRequest *CallRequest) GetFeatureName() string {
	return callRequest.feature
}

func ParseRequest(data []interface{}) (*CallRequest, error) {
	if len(data) != 4 {
		return nil, utility.Err("unsupported request format; expected length: 4 elements")
	}
	rawTypeId, ok := data[0].(float64)
	if !ok {
		return nil, utility.Err("invalid message type in request")
	}
	typeId := CallType(rawTypeId)
	if typeId != CallTypeRequest {
		return nil, fmt.Errorf("invalid request type id: %v", typeId)
	}
	uniqueId, ok := data[1].(string)
	if !ok {
		return nil, utility.Err("invalid message unique id in request")
	}
	action, ok := data[2].(string)
	if !ok {
		return nil, utility.Err("invalid action in request")
	}

	requestType, err := getRequestType(action)
	if err != nil {
		return nil, err
	}
	request, err := ParseRawJsonRequest(data[3], requestType)
	if err != nil {
		return nil, err
	}
	callRequest := CallRequest{
		TypeId:   typeId,
		UniqueId: uniqueId,
		feature:  action,
		Payload:  request,
	}
	return &callRequest, nil
}

func getRequestType(action string) (requestType reflect.Type, err error) {
	switch action {
	case core.BootNotificationFeatureName:
		requestType = reflect.TypeOf(core.BootNotificationRequest{})
	case core.HeartbeatFeatureName:
		requestType = reflect.TypeOf(core.HeartbeatRequest{})
	case core.StartTransactionFeatureName:
		requestType = reflect.TypeOf(core.StartTransactionRequest{})
	case core.StopTransactionFeatureName:
		requestType = reflect.TypeOf(core.StopTransactionRequest{})
	case core.MeterValuesFeatureName:
		requestType = reflect.TypeOf(core.MeterValuesRequest{})
	case core.StatusNotificationFeatureName:
		requestType = reflect.TypeOf(core.StatusNotificationRequest{})
	default:
		return nil, fmt.Errorf("unsupported action requested: %s", action)
	}
	return requestType, nil
}

func ParseRawJsonRequest(raw interface{}, requestType reflect.Type) (ocpp.Request, error) {
	if raw == nil {
		raw = &struct{}{}
	}
	bytes, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	request := reflect.New(requestType).Interface()
	err = json.Unmarshal(bytes, &request)
	if err != nil {
		return nil, err
	}
	result := request.(ocpp.Request)
	return result, nil
}

// ResultMessage is an inbound CallResult, payload left raw until the
// pending call it answers is known.
type ResultMessage struct {
	UniqueId string
	Payload  json.RawMessage
}

func ParseResult(data []interface{}) (*ResultMessage, error) {
	if len(data) != 3 {
		return nil, utility.Err("unsupported result format; expected length: 3 elements")
	}
	uniqueId, ok := data[1].(string)
	if !ok {
		return nil, utility.Err("invalid message unique id in result")
	}
	payload, err := json.Marshal(data[2])
	if err != nil {
		return nil, err
	}
	return &ResultMessage{UniqueId: uniqueId, Payload: payload}, nil
}
