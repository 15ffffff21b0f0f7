package messages

import "fmt"

// Type identifies a LoggerNet message.
type Type uint32

// Router and session level messages.
const (
	// TypeSessionClosed is sent by the server when it drops a session.
	// Body: reason (uint32).
	TypeSessionClosed Type = 0x00000001
	// TypeSessionClose is sent by the client to release a session. Empty body.
	TypeSessionClose Type = 0x00000002

	// TypeLogonCmd body: tran, app name, user name, password.
	TypeLogonCmd Type = 0x00000101
	// TypeLogonAck body: tran, outcome, interface version string.
	TypeLogonAck Type = 0x00000102
	// TypeDeviceOpenCmd body: tran, device name.
	TypeDeviceOpenCmd Type = 0x00000103
	// TypeDeviceOpenAck body: tran, outcome.
	TypeDeviceOpenAck Type = 0x00000104
	// TypeLogoffNot is sent when the server revokes a logon. Body: reason.
	TypeLogoffNot Type = 0x00000105
)

// Clock check/set.
const (
	// TypeClockCheckCmd body: tran, should set, send server time, server time.
	TypeClockCheckCmd Type = 0x00001001
	// TypeClockCheckAck body: tran, outcome, logger time, difference nanos.
	TypeClockCheckAck Type = 0x00001002
	// TypeClockCheckStopCmd body: tran.
	TypeClockCheckStopCmd Type = 0x00001003
)

// Manual poll connection management.
const (
	// TypeConnectionManageCmd body: tran, priority.
	TypeConnectionManageCmd Type = 0x00001101
	// TypeConnectionManageAck body: tran, outcome.
	TypeConnectionManageAck Type = 0x00001102
	// TypeConnectionManageStatusNot body: tran, status.
	TypeConnectionManageStatusNot Type = 0x00001103
	// TypeConnectionManageStopCmd body: tran.
	TypeConnectionManageStopCmd Type = 0x00001104
)

// Comm resource management.
const (
	// TypeResourceManageCmd body: tran, priority.
	TypeResourceManageCmd Type = 0x00001201
	// TypeResourceManageAck body: tran, outcome.
	TypeResourceManageAck Type = 0x00001202
	// TypeResourceManageStatusNot body: tran, status.
	TypeResourceManageStatusNot Type = 0x00001203
	// TypeResourceManageStopCmd body: tran.
	TypeResourceManageStopCmd Type = 0x00001204
)

// File control.
const (
	// TypeFileControlCmd body: tran, action, file name, param.
	TypeFileControlCmd Type = 0x00001301
	// TypeFileControlAck body: tran, outcome, hold off seconds.
	TypeFileControlAck Type = 0x00001302
)

// File send.
const (
	// TypeFileSendCmd body: tran, logger file name, offset, last, fragment.
	TypeFileSendCmd Type = 0x00001401
	// TypeFileSendAck body: tran, outcome, offset acknowledged.
	TypeFileSendAck Type = 0x00001402
	// TypeFileSendStopCmd body: tran.
	TypeFileSendStopCmd Type = 0x00001403
)

// Program file send.
const (
	// TypeProgramSendCmd body: tran, program name, offset, last, fragment.
	TypeProgramSendCmd Type = 0x00001501
	// TypeProgramSendAck body: tran, outcome, offset acknowledged.
	TypeProgramSendAck Type = 0x00001502
	// TypeProgramSendStatusNot body: tran, outcome, compile results.
	TypeProgramSendStatusNot Type = 0x00001503
	// TypeProgramSendStopCmd body: tran.
	TypeProgramSendStopCmd Type = 0x00001504
)

// Server time.
const (
	// TypeGetServerTimeCmd body: tran.
	TypeGetServerTimeCmd Type = 0x00001601
	// TypeGetServerTimeAck body: tran, server time.
	TypeGetServerTimeAck Type = 0x00001602
)

// Subscription style enumerations. Each has a start command, an ack carrying
// an outcome, one or more notification types and a stop command.
const (
	TypeTapiLinesEnumCmd     Type = 0x00001701
	TypeTapiLinesEnumAck     Type = 0x00001702
	TypeTapiLineAddedNot     Type = 0x00001703
	TypeTapiLineRemovedNot   Type = 0x00001704
	TypeTapiLinesEnumStopCmd Type = 0x00001705

	TypeViewMapCmd          Type = 0x00001801
	TypeViewMapAck          Type = 0x00001802
	TypeViewEntryAddedNot   Type = 0x00001803
	TypeViewEntryRemovedNot Type = 0x00001804
	TypeViewMapStopCmd      Type = 0x00001805

	TypeSettingsEnumCmd     Type = 0x00001901
	TypeSettingsEnumAck     Type = 0x00001902
	TypeSettingNot          Type = 0x00001903
	TypeSettingsEnumStopCmd Type = 0x00001904

	TypeOperationsEnumCmd     Type = 0x00001a01
	TypeOperationsEnumAck     Type = 0x00001a02
	TypeOperationAddedNot     Type = 0x00001a03
	TypeOperationChangedNot   Type = 0x00001a04
	TypeOperationRemovedNot   Type = 0x00001a05
	TypeOperationsEnumStopCmd Type = 0x00001a06

	TypeResourcesEnumCmd     Type = 0x00001b01
	TypeResourcesEnumAck     Type = 0x00001b02
	TypeResourceAddedNot     Type = 0x00001b03
	TypeResourceChangedNot   Type = 0x00001b04
	TypeResourceRemovedNot   Type = 0x00001b05
	TypeResourcesEnumStopCmd Type = 0x00001b06
)

var typeNames = map[Type]string{
	TypeSessionClosed:             "SESSION_CLOSED",
	TypeSessionClose:              "SESSION_CLOSE",
	TypeLogonCmd:                  "LOGON_CMD",
	TypeLogonAck:                  "LOGON_ACK",
	TypeDeviceOpenCmd:             "DEVICE_OPEN_CMD",
	TypeDeviceOpenAck:             "DEVICE_OPEN_ACK",
	TypeLogoffNot:                 "LOGOFF_NOT",
	TypeClockCheckCmd:             "CLOCK_CHECK_CMD",
	TypeClockCheckAck:             "CLOCK_CHECK_ACK",
	TypeClockCheckStopCmd:         "CLOCK_CHECK_STOP_CMD",
	TypeConnectionManageCmd:       "CONNECTION_MANAGE_CMD",
	TypeConnectionManageAck:       "CONNECTION_MANAGE_ACK",
	TypeConnectionManageStatusNot: "CONNECTION_MANAGE_STATUS_NOT",
	TypeConnectionManageStopCmd:   "CONNECTION_MANAGE_STOP_CMD",
	TypeResourceManageCmd:         "RESOURCE_MANAGE_CMD",
	TypeResourceManageAck:         "RESOURCE_MANAGE_ACK",
	TypeResourceManageStatusNot:   "RESOURCE_MANAGE_STATUS_NOT",
	TypeResourceManageStopCmd:     "RESOURCE_MANAGE_STOP_CMD",
	TypeFileControlCmd:            "FILE_CONTROL_CMD",
	TypeFileControlAck:            "FILE_CONTROL_ACK",
	TypeFileSendCmd:               "FILE_SEND_CMD",
	TypeFileSendAck:               "FILE_SEND_ACK",
	TypeFileSendStopCmd:           "FILE_SEND_STOP_CMD",
	TypeProgramSendCmd:            "PROGRAM_SEND_CMD",
	TypeProgramSendAck:            "PROGRAM_SEND_ACK",
	TypeProgramSendStatusNot:      "PROGRAM_SEND_STATUS_NOT",
	TypeProgramSendStopCmd:        "PROGRAM_SEND_STOP_CMD",
	TypeGetServerTimeCmd:          "GET_SERVER_TIME_CMD",
	TypeGetServerTimeAck:          "GET_SERVER_TIME_ACK",
	TypeTapiLinesEnumCmd:          "TAPI_LINES_ENUM_CMD",
	TypeTapiLinesEnumAck:          "TAPI_LINES_ENUM_ACK",
	TypeTapiLineAddedNot:          "TAPI_LINE_ADDED_NOT",
	TypeTapiLineRemovedNot:        "TAPI_LINE_REMOVED_NOT",
	TypeTapiLinesEnumStopCmd:      "TAPI_LINES_ENUM_STOP_CMD",
	TypeViewMapCmd:                "VIEW_MAP_CMD",
	TypeViewMapAck:                "VIEW_MAP_ACK",
	TypeViewEntryAddedNot:         "VIEW_ENTRY_ADDED_NOT",
	TypeViewEntryRemovedNot:       "VIEW_ENTRY_REMOVED_NOT",
	TypeViewMapStopCmd:            "VIEW_MAP_STOP_CMD",
	TypeSettingsEnumCmd:           "SETTINGS_ENUM_CMD",
	TypeSettingsEnumAck:           "SETTINGS_ENUM_ACK",
	TypeSettingNot:                "SETTING_NOT",
	TypeSettingsEnumStopCmd:       "SETTINGS_ENUM_STOP_CMD",
	TypeOperationsEnumCmd:         "OPERATIONS_ENUM_CMD",
	TypeOperationsEnumAck:         "OPERATIONS_ENUM_ACK",
	TypeOperationAddedNot:         "OPERATION_ADDED_NOT",
	TypeOperationChangedNot:       "OPERATION_CHANGED_NOT",
	TypeOperationRemovedNot:       "OPERATION_REMOVED_NOT",
	TypeOperationsEnumStopCmd:     "OPERATIONS_ENUM_STOP_CMD",
	TypeResourcesEnumCmd:          "RESOURCES_ENUM_CMD",
	TypeResourcesEnumAck:          "RESOURCES_ENUM_ACK",
	TypeResourceAddedNot:          "RESOURCE_ADDED_NOT",
	TypeResourceChangedNot:        "RESOURCE_CHANGED_NOT",
	TypeResourceRemovedNot:        "RESOURCE_REMOVED_NOT",
	TypeResourcesEnumStopCmd:      "RESOURCES_ENUM_STOP_CMD",
}

// String returns the catalogue name of the type.
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(0x%08X)", uint32(t))
}
