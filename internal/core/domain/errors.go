package domain

// SpError is the closed set of lifecycle failures a service provider reports
// from Init and Open. It implements error so it can be returned directly and
// matched with errors.Is.
type SpError int

const (
	Ok SpError = iota
	NotInitialized
	AlreadyOpen
	NotOpen
	Timeout
	IoError
	InvalidCommand
	Unsupported
	Internal
)

func (e SpError) String() string {
	switch e {
	case Ok:
		return "Ok"
	case NotInitialized:
		return "NotInitialized"
	case AlreadyOpen:
		return "AlreadyOpen"
	case NotOpen:
		return "NotOpen"
	case Timeout:
		return "Timeout"
	case IoError:
		return "IoError"
	case InvalidCommand:
		return "InvalidCommand"
	case Unsupported:
		return "Unsupported"
	case Internal:
		return "Internal"
	}
	return "Unknown"
}

func (e SpError) Error() string {
	return "service provider: " + e.String()
}
