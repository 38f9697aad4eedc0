package conference

import "regexp"

var (
	nanpRe    = regexp.MustCompile(`^\+?1([2-9]\d\d)([2-9]\d\d)(\d{4})$`)
	numericRe = regexp.MustCompile(`^\+?(\d{6,})$`)
)

// MaskCallerID hides the last four digits of a caller id.
// NANP numbers render as "+1 NXX-NXX-xxxx"; other numbers of six or more
// digits lose their last four digits; anything else is returned as is.
func MaskCallerID(s string) string {
	if m := nanpRe.FindStringSubmatch(s); m != nil {
		return "+1 " + m[1] + "-" + m[2] + "-xxxx"
	}
	if m := numericRe.FindStringSubmatch(s); m != nil {
		return "+" + m[1][:len(m[1])-4]
	}
	return s
}
