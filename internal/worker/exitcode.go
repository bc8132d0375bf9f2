// Package worker implements per-transfer child-process launch (spec.md
// §4.4) and exit-code classification (spec.md §4.6).
package worker

// ExitCode is the closed set of worker exit codes exported for scripting
// (spec.md §6 "Worker exit codes").
type ExitCode int

const (
	Success             ExitCode = 0
	StillFilesToSend    ExitCode = 1
	SyntaxError         ExitCode = 10
	NoMessageFile       ExitCode = 11
	JIDNumberError      ExitCode = 12
	TimeoutError        ExitCode = 20
	ConnectError        ExitCode = 21
	ConnectionResetError ExitCode = 22
	TypeError           ExitCode = 23
	ReadLocalError       ExitCode = 24
	RemoteUserError      ExitCode = 30
	ChdirError          ExitCode = 31
	MkdirError          ExitCode = 32
	NoFilesToSend        ExitCode = 40
	GotKilled           ExitCode = 50
)

// Classification is the outcome bucket a worker exit code is sorted into,
// matching the selected set in spec.md §4.6.
type Classification int

const (
	ClassSuccess Classification = iota
	ClassMalformed
	ClassTransient
	ClassSemiPermanent
	ClassNotAnError
	ClassAdministrative
	ClassUnknownFatal
)

func (c Classification) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassMalformed:
		return "malformed"
	case ClassTransient:
		return "transient"
	case ClassSemiPermanent:
		return "semi-permanent"
	case ClassNotAnError:
		return "not-an-error"
	case ClassAdministrative:
		return "administrative"
	default:
		return "unknown-fatal"
	}
}

// Classify maps an exit code to its classification (spec.md §4.6). Unknown
// codes are fatal-faulty per spec.md §6: "Supervisor treats unknown codes
// as fatal-faulty."
func Classify(code ExitCode) Classification {
	switch code {
	case Success, StillFilesToSend:
		return ClassSuccess
	case SyntaxError, NoMessageFile, JIDNumberError:
		return ClassMalformed
	case TimeoutError, ConnectError, ConnectionResetError, TypeError, ReadLocalError:
		return ClassTransient
	case RemoteUserError, ChdirError, MkdirError:
		return ClassSemiPermanent
	case NoFilesToSend:
		return ClassNotAnError
	case GotKilled:
		return ClassAdministrative
	default:
		return ClassUnknownFatal
	}
}
