// SPDX-License-Identifier: GPL-3.0-or-later

package rtframe

import (
	"net"
	"strconv"
)

// NewEndpointFunc returns a [Func] producing the "host:port" address of a
// producer channel, suitable as the first step of a connect pipeline.
//
// The host may be a name or an IPv4/IPv6 literal; IPv6 literals are
// bracketed as [net.JoinHostPort] does.
func NewEndpointFunc(host string, port int) Func[Unit, string] {
	return ConstFunc(net.JoinHostPort(host, strconv.Itoa(port)))
}
