// Package netif lists the local addresses a teacher can share with students.
package netif

import (
	"net"
)

type Address struct {
	Interface string `json:"interface"`
	IP        string `json:"ip"`
}

// LocalAddresses returns non-loopback IPv4 addresses of interfaces that are up.
func LocalAddresses() ([]Address, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var res []Address
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		res = append(res, filterIPv4(iface.Name, addrs)...)
	}
	return res, nil
}

func filterIPv4(name string, addrs []net.Addr) []Address {
	var res []Address
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip == nil || ip.IsLoopback() || ip.To4() == nil {
			continue
		}
		res = append(res, Address{Interface: name, IP: ip.String()})
	}
	return res
}
