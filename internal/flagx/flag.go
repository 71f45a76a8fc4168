// Package flagx lets several independent parsers share one command line:
// each parser picks out only the flags it owns before calling flag.Parse.
package flagx

import (
	"flag"
	"strings"
)

// FilterArgs returns the subset of args that belongs to the given flags.
//
// valued flags take an argument, either inline (-s=url) or as the next token
// when that token does not start with "-". switches are boolean flags and
// never consume the following token. Unknown flags and positional arguments
// are dropped. The result is never nil.
func FilterArgs(args []string, valued []string, switches ...string) []string {
	withValue := make(map[string]struct{}, len(valued))
	for _, f := range valued {
		withValue[f] = struct{}{}
	}
	boolean := make(map[string]struct{}, len(switches))
	for _, f := range switches {
		boolean[f] = struct{}{}
	}

	filtered := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "-") && strings.Contains(arg, "=") {
			name := strings.SplitN(arg, "=", 2)[0]
			if _, ok := withValue[name]; ok {
				filtered = append(filtered, arg)
			} else if _, ok := boolean[name]; ok {
				filtered = append(filtered, arg)
			}
			continue
		}

		if _, ok := boolean[arg]; ok {
			filtered = append(filtered, arg)
			continue
		}

		if _, ok := withValue[arg]; ok {
			filtered = append(filtered, arg)
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				filtered = append(filtered, args[i+1])
				i++
			}
		}
	}

	return filtered
}

// JsonConfigPath extracts the config file path given via -c or -config.
// The last occurrence wins; an empty string means no file was requested.
func JsonConfigPath(args []string) string {
	var config string

	fs := flag.NewFlagSet("json", flag.ContinueOnError)
	fs.StringVar(&config, "config", "", "Path to config file")
	fs.StringVar(&config, "c", "", "Path to config file (short)")
	_ = fs.Parse(FilterArgs(args, []string{"-c", "-config"}))

	return config
}
