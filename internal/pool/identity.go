package pool

import (
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
)

// DefaultPort is used when a request does not carry a port
const DefaultPort = 3306

// ErrInvalidIdentity is returned for malformed connection parameters
var ErrInvalidIdentity = errors.New("invalid connection identity")

// Identity identifies a reusable pooled source. The password is deliberately
// not part of it; see Registry.Get for how credential changes are handled.
type Identity struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Database string `json:"database"`
}

// Validate rejects identities that can never be dialed
func (id Identity) Validate() error {
	if strings.TrimSpace(id.Host) == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidIdentity)
	}
	if id.Port < 1 || id.Port > 65535 {
		return fmt.Errorf("%w: port %d is out of range", ErrInvalidIdentity, id.Port)
	}
	return nil
}

// Addr returns host:port
func (id Identity) Addr() string {
	return net.JoinHostPort(id.Host, strconv.Itoa(id.Port))
}

func (id Identity) String() string {
	return fmt.Sprintf("%s@%s/%s", id.User, id.Addr(), id.Database)
}

// ParsePort converts a loosely typed port value. nil and "" yield DefaultPort.
func ParsePort(v any) (int, error) {
	switch p := v.(type) {
	case nil:
		return DefaultPort, nil
	case int:
		return p, nil
	case int32:
		return int(p), nil
	case int64:
		return int(p), nil
	case float64:
		if p != math.Trunc(p) || math.IsInf(p, 0) || math.IsNaN(p) {
			return 0, fmt.Errorf("%w: port %v is not an integer", ErrInvalidIdentity, p)
		}
		return int(p), nil
	case string:
		s := strings.TrimSpace(p)
		if s == "" {
			return DefaultPort, nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("%w: port %q is not numeric", ErrInvalidIdentity, p)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: port has unsupported type %T", ErrInvalidIdentity, v)
	}
}
