package purge

import "fmt"

// NTSTATUS values seen from NtSetSystemInformation.
const (
	StatusSuccess           uint32 = 0x00000000
	StatusUnsuccessful      uint32 = 0xC0000001
	StatusInvalidHandle     uint32 = 0xC0000008
	StatusInvalidParameter  uint32 = 0xC000000D
	StatusAccessDenied      uint32 = 0xC0000022
	StatusPrivilegeNotHeld  uint32 = 0xC0000061
	StatusProcedureNotFound uint32 = 0xC000007A
	StatusNotSupported      uint32 = 0xC00000BB
)

// Outcome is the decoded result class of a purge request.
type Outcome string

const (
	Success          Outcome = "success"
	PrivilegeNotHeld Outcome = "privilege-not-held"
	AccessDenied     Outcome = "access-denied"
	InvalidHandle    Outcome = "invalid-handle"
	InvalidParameter Outcome = "invalid-parameter"
	Unsuccessful     Outcome = "unsuccessful"
	NotSupported     Outcome = "not-supported"
	UnknownStatus    Outcome = "unknown"
)

// Decode maps a raw status onto an outcome and a human-readable reason.
// Unrecognised codes come back as UnknownStatus with the hex code as reason.
func Decode(status uint32) (Outcome, string) {
	switch status {
	case StatusSuccess:
		return Success, "STATUS_SUCCESS"
	case StatusPrivilegeNotHeld:
		return PrivilegeNotHeld, "STATUS_PRIVILEGE_NOT_HELD"
	case StatusAccessDenied:
		return AccessDenied, "STATUS_ACCESS_DENIED"
	case StatusInvalidHandle:
		return InvalidHandle, "STATUS_INVALID_HANDLE"
	case StatusInvalidParameter:
		return InvalidParameter, "STATUS_INVALID_PARAMETER"
	case StatusUnsuccessful:
		return Unsuccessful, "STATUS_UNSUCCESSFUL"
	case StatusNotSupported, StatusProcedureNotFound:
		return NotSupported, "STATUS_NOT_SUPPORTED"
	}
	return UnknownStatus, Hex(status)
}

// Hex formats a status the way Windows tooling prints it.
func Hex(status uint32) string { return fmt.Sprintf("0x%08X", status) }
