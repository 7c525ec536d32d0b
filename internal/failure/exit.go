package failure

// Exit codes for a gate run:
//
//	0 = gate passed
//	1 = gate refused (branch/title format, key mismatch, issue not in progress)
//	2 = tracker failure (access rejected, unexpected response shape)
//	3 = fatal error (configuration or anything unclassified)
const (
	ExitPassed  = 0
	ExitRefused = 1
	ExitTracker = 2
	ExitFatal   = 3
)

func ExitCode(err error) int {
	if err == nil {
		return ExitPassed
	}
	switch KindOf(err) {
	case KindFormat, KindConsistency, KindState:
		return ExitRefused
	case KindAccess, KindSchema:
		return ExitTracker
	default:
		return ExitFatal
	}
}
