package fulfillment

import "encoding/json"

// Intents understood by the dispatcher. Anything else is rejected per
// request with the caller's correlation id.
const (
	IntentSync       = "action.devices.SYNC"
	IntentQuery      = "action.devices.QUERY"
	IntentExecute    = "action.devices.EXECUTE"
	IntentDisconnect = "action.devices.DISCONNECT"
)

// Commands applied by EXECUTE. Unrecognized commands are skipped.
const (
	CommandOnOff              = "action.devices.commands.OnOff"
	CommandColorAbsolute      = "action.devices.commands.ColorAbsolute"
	CommandBrightnessAbsolute = "action.devices.commands.BrightnessAbsolute"
)

// Request is the common fulfillment envelope. The intent-specific payload
// stays raw until the intent is known, then decodes into exactly one of
// the typed payloads below.
type Request struct {
	RequestID string  `json:"requestId"`
	Inputs    []Input `json:"inputs"`
}

// Input is one intent invocation inside a request.
type Input struct {
	Intent  string          `json:"intent"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DeviceRef references a device by id.
type DeviceRef struct {
	ID string `json:"id"`
}

// QueryPayload is the QUERY intent request payload.
type QueryPayload struct {
	Devices []DeviceRef `json:"devices"`
}

// ExecutePayload is the EXECUTE intent request payload.
type ExecutePayload struct {
	Commands []ExecuteCommand `json:"commands"`
}

// ExecuteCommand is one (devices, executions) batch entry.
type ExecuteCommand struct {
	Devices   []DeviceRef `json:"devices"`
	Execution []Execution `json:"execution"`
}

// Execution is a single command with its parameters.
type Execution struct {
	Command string          `json:"command"`
	Params  ExecutionParams `json:"params"`
}

// ExecutionParams holds the union of parameters the recognized commands
// carry. Pointers distinguish absent from zero.
type ExecutionParams struct {
	On         *bool  `json:"on,omitempty"`
	Color      *Color `json:"color,omitempty"`
	Brightness *int   `json:"brightness,omitempty"`
}

// Color is the ColorAbsolute parameter. SpectrumRGB packs the channels
// as a 24-bit integer, red in the most significant byte.
type Color struct {
	Name        string `json:"name,omitempty"`
	SpectrumRGB int64  `json:"spectrumRGB"`
}

// Response is the common fulfillment response envelope. RequestID always
// echoes the request's correlation id verbatim.
type Response struct {
	RequestID string `json:"requestId"`
	Payload   any    `json:"payload"`
}

// ErrorPayload is the payload of a whole-request failure.
type ErrorPayload struct {
	ErrorCode string `json:"errorCode"`
}

// SyncPayload is the SYNC response payload.
type SyncPayload struct {
	AgentUserID string       `json:"agentUserId"`
	Devices     []SyncDevice `json:"devices"`
}

// SyncDevice is a device's static capability metadata. States are never
// part of a SYNC response.
type SyncDevice struct {
	ID              string     `json:"id"`
	Type            string     `json:"type"`
	Traits          []string   `json:"traits"`
	Name            DeviceName `json:"name"`
	WillReportState bool       `json:"willReportState"`
}

// DeviceName is the display metadata block of a device.
type DeviceName struct {
	DefaultNames []string `json:"defaultNames"`
	Name         string   `json:"name"`
	Nicknames    []string `json:"nicknames"`
}

// QueryResponsePayload maps device ids to their reported states.
type QueryResponsePayload struct {
	Devices map[string]map[string]any `json:"devices"`
}

// ExecuteResponsePayload carries one result entry per input device.
type ExecuteResponsePayload struct {
	Commands []ExecuteResult `json:"commands"`
}

// ExecuteResult statuses.
const (
	StatusSuccess = "SUCCESS"
	StatusError   = "ERROR"
)

// Error codes scoped to a single device.
const (
	ErrorCodeAuthFailure    = "authFailure"
	ErrorCodeDeviceNotFound = "deviceNotFound"
	ErrorCodeTransientError = "transientError"
	ErrorCodeNotSupported   = "notSupported"
)

// ExecuteResult is the outcome for one device of an EXECUTE batch.
type ExecuteResult struct {
	IDs       []string       `json:"ids"`
	Status    string         `json:"status"`
	States    map[string]any `json:"states,omitempty"`
	ErrorCode string         `json:"errorCode,omitempty"`
}
