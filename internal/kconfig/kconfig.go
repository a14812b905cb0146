// Package kconfig parses the kernel command line grammar of spec §6:
// space-separated tokens selecting the silent-logger flag, the root
// device, and the init binary path.
//
// Grounded on the teacher's ingest/config package: "trim, split, validate,
// default" token handling (env.go's loadEnv/parseEnv chain), generalized
// here from ini-style key/value files down to a single flat
// space-separated token line.
package kconfig

import (
	"errors"
	"strconv"
	"strings"
)

var (
	// ErrBadToken is returned for a recognized-prefix token with an
	// unparsable value, e.g. "root=not-a-number,0".
	ErrBadToken = errors.New("kconfig: malformed cmdline token")
)

// DefaultInit is the init path used when the cmdline carries no init=
// token, per spec §6's init process contract.
const DefaultInit = "/sbin/init"

// RootDevice names a block device by its major/minor pair, the same
// addressing scheme spec §6's root=<major>,<minor> token uses.
type RootDevice struct {
	Major uint32
	Minor uint32
}

// Cmdline is the parsed form of the kernel command line.
type Cmdline struct {
	Silent bool
	Root   RootDevice
	HasRoot bool
	Init   string
}

// Parse tokenizes line on whitespace and recognizes the three token
// kinds spec §6 names; unrecognized tokens are ignored, matching the
// original kernel's tolerant cmdline handling.
func Parse(line string) (Cmdline, error) {
	cfg := Cmdline{Init: DefaultInit}
	for _, tok := range strings.Fields(line) {
		switch {
		case tok == "-s":
			cfg.Silent = true
		case strings.HasPrefix(tok, "root="):
			dev, err := parseRoot(strings.TrimPrefix(tok, "root="))
			if err != nil {
				return Cmdline{}, err
			}
			cfg.Root = dev
			cfg.HasRoot = true
		case strings.HasPrefix(tok, "init="):
			path := strings.TrimPrefix(tok, "init=")
			if path == "" {
				return Cmdline{}, ErrBadToken
			}
			cfg.Init = path
		}
	}
	return cfg, nil
}

func parseRoot(val string) (RootDevice, error) {
	parts := strings.SplitN(val, ",", 2)
	if len(parts) != 2 {
		return RootDevice{}, ErrBadToken
	}
	major, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return RootDevice{}, ErrBadToken
	}
	minor, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return RootDevice{}, ErrBadToken
	}
	return RootDevice{Major: uint32(major), Minor: uint32(minor)}, nil
}

// Registry resolves a RootDevice to the backing image path that
// blockio.Open should be given, the tiny device-number registry
// SPEC_FULL.md's device-backed superblock bootstrap supplement names.
type Registry struct {
	paths map[RootDevice]string
}

// NewRegistry builds an empty device registry.
func NewRegistry() *Registry {
	return &Registry{paths: make(map[RootDevice]string)}
}

// Register associates dev with the image file at path.
func (r *Registry) Register(dev RootDevice, path string) {
	r.paths[dev] = path
}

// Resolve returns the image path registered for dev, if any.
func (r *Registry) Resolve(dev RootDevice) (string, bool) {
	p, ok := r.paths[dev]
	return p, ok
}
