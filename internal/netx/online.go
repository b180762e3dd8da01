package netx

import (
	"context"
	"net"
)

// Online reports whether the host currently has a non-loopback address
// assigned, which is the cheapest signal that an upload attempt is worth
// starting. Transfers still handle their own network errors; this only
// keeps queued work from burning retry attempts while clearly offline.
func Online(_ context.Context) bool {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return false
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ipnet.IP.To4() != nil || ipnet.IP.To16() != nil {
			return true
		}
	}
	return false
}
