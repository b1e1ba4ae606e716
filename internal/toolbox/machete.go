package toolbox

// MacheteLimit is the hard cap applied to subprocess stdout/stderr at the
// moment of capture, before either stream ever reaches a turn's results.
const MacheteLimit = 20000

// Machete truncates s to MacheteLimit characters. The second return value
// reports whether truncation occurred.
func Machete(s string) (string, bool) {
	if len(s) <= MacheteLimit {
		return s, false
	}
	return s[:MacheteLimit], true
}
