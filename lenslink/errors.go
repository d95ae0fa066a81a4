package lenslink

import "fmt"

const (
	AlreadyConnectedError = iota

	ConnectionError

	ConnectionRefusedError

	DisconnectedError

	TimedOutError

	ProtocolError

	CommandError

	MessageHandlerError

	InvalidURIError

	ValidationError

	UnknownError
)

// NewError builds a typed SDK error from an error code and optional detail.
func NewError(errorCode int, message ...interface{}) error {
	var errorName string

	switch errorCode {
	case AlreadyConnectedError:
		errorName = "AlreadyConnectedError"
	case ConnectionError:
		errorName = "ConnectionError"
	case ConnectionRefusedError:
		errorName = "ConnectionRefusedError"
	case DisconnectedError:
		errorName = "DisconnectedError"
	case TimedOutError:
		errorName = "TimedOutError"
	case ProtocolError:
		errorName = "ProtocolError"
	case CommandError:
		errorName = "CommandError"
	case MessageHandlerError:
		errorName = "MessageHandlerError"
	case InvalidURIError:
		errorName = "InvalidURIError"
	case ValidationError:
		errorName = "ValidationError"
	default:
		errorName = "UnknownError"
	}

	if len(message) > 0 {
		return fmt.Errorf("%s: %s", errorName, message[0])
	}

	return fmt.Errorf("%s", errorName)
}
