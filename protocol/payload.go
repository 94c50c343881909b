package protocol

import (
	"errors"
	"net/url"
	"strings"

	"github.com/encodeous/dvsim/state"
)

var ErrNoDestination = errors.New("payload has no " + state.PayloadDestinationKey + " field")

// ParsePayload reads a query-string-like body of &-separated key=value pairs.
// Pairs that do not split into exactly a key and a value, or that fail to unescape, are skipped.
// The first occurrence of a key wins.
func ParsePayload(payload []byte) map[string]string {
	fields := make(map[string]string)
	for _, pair := range strings.Split(strings.TrimSpace(string(payload)), "&") {
		kv := strings.Split(pair, "=")
		if len(kv) != 2 {
			continue
		}
		key, err := url.QueryUnescape(kv[0])
		if err != nil {
			continue
		}
		value, err := url.QueryUnescape(kv[1])
		if err != nil {
			continue
		}
		if _, ok := fields[key]; !ok {
			fields[key] = value
		}
	}
	return fields
}

// PayloadDestination returns the address the payload must be forwarded to.
func PayloadDestination(payload []byte) (state.NodeAddr, error) {
	dst, ok := ParsePayload(payload)[state.PayloadDestinationKey]
	if !ok || dst == "" {
		return "", ErrNoDestination
	}
	return state.NodeAddr(dst), nil
}
