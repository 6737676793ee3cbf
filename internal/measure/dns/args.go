package dns

import "strconv"

// BuildArgs produces the dig(1) argv for opts (spec.md §4.D "dns").
func BuildArgs(opts Options) []string {
	args := []string{}
	if opts.IPVersion == 6 {
		args = append(args, "-6")
	} else {
		args = append(args, "-4")
	}

	queryType := opts.QueryType
	if queryType == "" {
		queryType = "A"
	}
	if queryType == "PTR" {
		args = append(args, "-x", opts.Target)
	} else {
		args = append(args, opts.Target, "-t", queryType)
	}

	args = append(args, "-p", strconv.Itoa(opts.Port))
	args = append(args, "+timeout=3", "+tries=2", "+nocookie", "+nsid")

	if opts.Protocol == "tcp" {
		args = append(args, "+tcp")
	}
	if opts.Trace {
		args = append(args, "+trace")
	}
	if opts.Resolver != "" {
		args = append(args, "@"+opts.Resolver)
	}

	return args
}
