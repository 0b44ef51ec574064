package protocol

import "fmt"

// Status is the endpoint-reported outcome of an MRPC command.
type Status uint32

// Known endpoint status codes. The list is informational: any non-zero value is an
// error, and codes missing here are reported numerically.
const (
	StatusSuccess              Status = 0
	StatusNoAvailMRPCThread    Status = 0x64001
	StatusHandlerThreadNotIdle Status = 0x64002
	StatusNoBGThread           Status = 0x64003
	StatusSubCmdInvalid        Status = 0x64004
	StatusCmdInvalid           Status = 0x64005
	StatusParamInvalid         Status = 0x64006
	StatusBadFWState           Status = 0x64007
	StatusStackInvalid         Status = 0x100001
	StatusPortInvalid          Status = 0x100002
	StatusEventInvalid         Status = 0x100003
	StatusRstRuleFailed        Status = 0x100005
	StatusAccessRefused        Status = 0xFFFF0001
)

var statusNames = map[Status]string{
	StatusSuccess:              "SUCCESS",
	StatusNoAvailMRPCThread:    "ERR_NO_AVAIL_MRPC_THREAD",
	StatusHandlerThreadNotIdle: "ERR_HANDLER_THREAD_NOT_IDLE",
	StatusNoBGThread:           "ERR_NO_BG_THREAD",
	StatusSubCmdInvalid:        "ERR_SUBCMD_INVALID",
	StatusCmdInvalid:           "ERR_CMD_INVALID",
	StatusParamInvalid:         "ERR_PARAM_INVALID",
	StatusBadFWState:           "ERR_BAD_FW_STATE",
	StatusStackInvalid:         "ERR_STACK_INVALID",
	StatusPortInvalid:          "ERR_PORT_INVALID",
	StatusEventInvalid:         "ERR_EVENT_INVALID",
	StatusRstRuleFailed:        "ERR_RST_RULE_FAILED",
	StatusAccessRefused:        "ERR_ACCESS_REFUSED",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(0x%x)", uint32(s))
}

// ProtocolError is returned when the endpoint answers with a non-zero status.
// The bytes were transferred correctly; the endpoint refused or failed the command.
type ProtocolError struct {
	CommandID uint32
	Status    Status
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("mrpc command %d failed with status 0x%x (%s)", e.CommandID, uint32(e.Status), e.Status)
}
