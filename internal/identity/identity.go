package identity

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// DefaultLabel prefixes derived identifiers.
const DefaultLabel = "langchain:agent"

// suffixLen is the number of hex characters taken from the host hash.
const suffixLen = 8

// namespace scopes host-derived UUIDs so they never collide with other
// name-based UUIDs computed from the same host name.
var namespace = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("devicegate.machineid.io"))

// ErrUnresolvable is returned when no override is set and no default can be
// derived from the host.
var ErrUnresolvable = errors.New("device identity unresolvable")

// HostnameFunc returns the name of the current host.
type HostnameFunc func() (string, error)

// Resolver produces the device identifier for one process run.
type Resolver struct {
	// Label prefixes derived identifiers. Empty means DefaultLabel.
	Label string

	// Hostname looks up the host name. Nil means os.Hostname.
	Hostname HostnameFunc
}

// Resolve returns override verbatim when it is non-blank, otherwise an
// identifier derived from the host name.
func (r Resolver) Resolve(override string) (string, error) {
	if strings.TrimSpace(override) != "" {
		return override, nil
	}

	lookup := r.Hostname
	if lookup == nil {
		lookup = os.Hostname
	}
	host, err := lookup()
	if err != nil {
		return "", fmt.Errorf("%w: hostname lookup: %v", ErrUnresolvable, err)
	}

	host = normalizeHost(host)
	if host == "" {
		return "", fmt.Errorf("%w: empty hostname", ErrUnresolvable)
	}

	label := r.Label
	if label == "" {
		label = DefaultLabel
	}
	return label + "-" + hostSuffix(host), nil
}

// normalizeHost trims, NFC-normalises and lower-cases a host name.
func normalizeHost(host string) string {
	host = strings.TrimSpace(host)
	host = norm.NFC.String(host)
	return cases.Lower(language.Und).String(host)
}

func hostSuffix(host string) string {
	id := uuid.NewSHA1(namespace, []byte(host))
	hex := strings.ReplaceAll(id.String(), "-", "")
	return hex[:suffixLen]
}
