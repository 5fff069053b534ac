package port

import (
	"net"
	"strconv"
)

// Check returns true if nothing is listening on the given TCP port.
func Check(port int) (bool, error) {
	server, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(port))
	if err != nil {
		return false, err
	}

	return true, server.Close()
}

// Free asks the OS for n distinct unused TCP ports on the loopback interface.
func Free(n int) ([]int, error) {
	listeners := make([]net.Listener, 0, n)
	defer func() {
		for _, l := range listeners {
			_ = l.Close()
		}
	}()

	ports := make([]int, 0, n)
	for i := 0; i < n; i++ {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return nil, err
		}
		listeners = append(listeners, l)
		ports = append(ports, l.Addr().(*net.TCPAddr).Port)
	}

	return ports, nil
}
