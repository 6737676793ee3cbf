package ping

import "strconv"

// BuildArgs produces the ping(8) argv for opts, deterministic and free of
// side effects so it can be unit-tested without spawning anything
// (spec.md §4.D step 2).
func BuildArgs(opts Options) []string {
	args := []string{}
	if opts.IPVersion == 6 {
		args = append(args, "-6")
	} else {
		args = append(args, "-4")
	}
	args = append(args,
		"-c", strconv.Itoa(opts.Packets),
		"-i", "0.2",
		"-w", "15",
		opts.Target,
	)
	return args
}
