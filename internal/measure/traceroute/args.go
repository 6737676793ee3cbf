package traceroute

import "strconv"

// BuildArgs produces the traceroute(8) argv for opts (spec.md §4.D
// "traceroute").
func BuildArgs(opts Options) []string {
	args := []string{}
	if opts.IPVersion == 6 {
		args = append(args, "-6")
	} else {
		args = append(args, "-4")
	}
	args = append(args, "-m", "20", "-w", "2", "-q", "2", "-N", "20", "--"+opts.Protocol)
	if opts.Protocol == "tcp" {
		args = append(args, "-p", strconv.Itoa(opts.Port))
	}
	args = append(args, opts.Target)
	return args
}
