package media

import (
	"fmt"
	"strings"
)

// FlagSet is a whitelist of flags accepted by a binary
type FlagSet map[string]bool

func flagSet(flags ...string) FlagSet {
	res := make(FlagSet, len(flags))
	for _, f := range flags {
		res[f] = true
	}
	return res
}

// whitelists of supported binaries. Inputs are added with Command.Input or Command.Lavfi only.
var (
	FFmpegFlags = flagSet("-y", "-hide_banner", "-nostdin", "-loglevel", "-f", "-safe", "-c", "-c:v", "-c:a",
		"-t", "-ss", "-vf", "-af", "-filter_complex", "-map", "-r", "-pix_fmt", "-preset", "-crf", "-b:v",
		"-maxrate", "-bufsize", "-profile:v", "-ar", "-ac", "-b:a", "-shortest", "-stream_loop", "-an",
		"-movflags", "-threads")
	FFprobeFlags = flagSet("-v", "-print_format", "-show_format", "-show_streams", "-select_streams", "-show_entries")
	EspeakFlags  = flagSet("-v", "-s", "-p", "-a", "-w")
)

// Command collects a validated argument list. The first validation error is kept and reported by Args.
type Command struct {
	bin     string
	allowed FlagSet
	guard   *PathGuard
	args    []string
	err     error
}

// Flag appends a whitelisted flag with its values
func (c *Command) Flag(name string, values ...string) *Command {
	if c.err != nil {
		return c
	}
	if !c.allowed[name] {
		c.err = fmt.Errorf("flag %s is not allowed for %s", name, c.bin)
		return c
	}
	for _, v := range values {
		if strings.ContainsRune(v, 0) {
			c.err = fmt.Errorf("invalid value for %s", name)
			return c
		}
	}
	c.args = append(c.args, name)
	c.args = append(c.args, values...)
	return c
}

// Input appends an input file, "-i path" for the encoder
func (c *Command) Input(path string) *Command {
	if c.err != nil {
		return c
	}
	p, err := c.guard.Check(path)
	if err != nil {
		c.err = err
		return c
	}
	c.args = append(c.args, "-i", p)
	return c
}

// Lavfi appends a generated input source
func (c *Command) Lavfi(source string) *Command {
	if c.err != nil {
		return c
	}
	c.args = append(c.args, "-f", "lavfi", "-i", source)
	return c
}

// File appends a guarded path, optionally prefixed by a whitelisted flag
func (c *Command) File(flag, path string) *Command {
	if c.err != nil {
		return c
	}
	if flag != "" && !c.allowed[flag] {
		c.err = fmt.Errorf("flag %s is not allowed for %s", flag, c.bin)
		return c
	}
	p, err := c.guard.Check(path)
	if err != nil {
		c.err = err
		return c
	}
	if flag != "" {
		c.args = append(c.args, flag)
	}
	c.args = append(c.args, p)
	return c
}

// Text appends a positional non-flag argument
func (c *Command) Text(s string) *Command {
	if c.err != nil {
		return c
	}
	if strings.HasPrefix(s, "-") || strings.ContainsRune(s, 0) {
		c.err = fmt.Errorf("invalid positional argument %q", s)
		return c
	}
	c.args = append(c.args, s)
	return c
}

// Args returns the argument list or the first validation error
func (c *Command) Args() ([]string, error) {
	if c.err != nil {
		return nil, c.err
	}
	return append([]string(nil), c.args...), nil
}

// Bin returns the binary path
func (c *Command) Bin() string { return c.bin }
