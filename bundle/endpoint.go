// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bundle

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/dtn7/udtn/sdnv"
)

// EndpointID is a CBHE-style ipn endpoint identifier: "ipn:<node>" or
// "ipn:<node>.<service>". Node 0 is reserved as the null endpoint.
type EndpointID struct {
	Node uint64
	Service uint64
}

var ipnRegexp = regexp.MustCompile(`^ipn:(\d+)(?:\.(\d+))?$`)

// NoneEndpoint is the reserved null endpoint, node 0.
var NoneEndpoint = EndpointID{}

// ParseEndpointID parses the textual "ipn:<node>" or "ipn:<node>.<service>"
// form of an endpoint identifier.
func ParseEndpointID(s string) (EndpointID, error) {
	m := ipnRegexp.FindStringSubmatch(s)
	if m == nil {
		return EndpointID{}, newBundleError(fmt.Sprintf("bundle: %q is not a valid ipn endpoint", s))
	}

	node, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return EndpointID{}, err
	}

	var service uint64
	if m[2] != "" {
		if service, err = strconv.ParseUint(m[2], 10, 64); err != nil {
			return EndpointID{}, err
		}
	}

	return EndpointID{Node: node, Service: service}, nil
}

// IsNull reports whether this is the reserved null endpoint, node 0.
func (e EndpointID) IsNull() bool {
	return e.Node == 0
}

func (e EndpointID) String() string {
	if e.Service == 0 {
		return fmt.Sprintf("ipn:%d", e.Node)
	}
	return fmt.Sprintf("ipn:%d.%d", e.Node, e.Service)
}

// WireLen returns the number of bytes WriteTo would write.
func (e EndpointID) WireLen() int {
	s := e.String()
	return sdnv.Len32(uint32(len(s))) + len(s)
}

// WriteTo appends this EndpointID's wire form -- an SDNV-prefixed length
// followed by the textual "ipn:..." bytes -- to buf, returning the new
// slice.
func (e EndpointID) WriteTo(buf []byte) []byte {
	s := e.String()

	lenBuf := make([]byte, sdnv.MaxLen32)
	n, _ := sdnv.EncodeUint32(uint32(len(s)), lenBuf)

	buf = append(buf, lenBuf[:n]...)
	buf = append(buf, s...)
	return buf
}

// ReadEndpointIDFrom decodes an SDNV-prefixed-length textual endpoint from
// buf and returns the EndpointID and the number of bytes consumed.
func ReadEndpointIDFrom(buf []byte) (EndpointID, int, error) {
	var textLen uint32
	n, err := sdnv.DecodeUint32(buf, &textLen)
	if err != nil {
		return EndpointID{}, 0, err
	}

	if len(buf) < n+int(textLen) {
		return EndpointID{}, 0, ErrTruncated
	}

	text := string(buf[n: n+int(textLen)])
	eid, err := ParseEndpointID(text)
	if err != nil {
		return EndpointID{}, 0, err
	}

	return eid, n + int(textLen), nil
}
