package service

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/clusterw/wgo-ui/util/common"
)

const (
	minHostNum = 2
	maxHostNum = 254
)

// IPAllocator hands out host numbers inside the tunnel subnet. The
// server owns one host number, peers get the lowest free one.
type IPAllocator struct {
	serverIP int
	used     map[int]bool
}

func NewIPAllocator(serverIP int, inUse []int) *IPAllocator {
	used := make(map[int]bool, len(inUse)+1)
	used[serverIP] = true
	for _, ip := range inUse {
		used[ip] = true
	}
	return &IPAllocator{serverIP: serverIP, used: used}
}

// Allocate returns the lowest free host number. Released numbers are
// reused before higher ones.
func (a *IPAllocator) Allocate() (int, error) {
	for ip := minHostNum; ip <= maxHostNum; ip++ {
		if !a.used[ip] {
			a.used[ip] = true
			return ip, nil
		}
	}
	return 0, ErrAddressSpaceExhausted
}

func (a *IPAllocator) Release(ip int) {
	if ip != a.serverIP {
		delete(a.used, ip)
	}
}

// ParseSubnetBase validates a "X.Y.Z" base (the first three octets of
// a /24) and returns it normalized.
func ParseSubnetBase(base string) (string, error) {
	parts := strings.Split(base, ".")
	if len(parts) != 3 {
		return "", common.NewErrorf("%w: subnet base must be three octets, got %q", ErrValidation, base)
	}
	addr, err := netip.ParseAddr(base + ".0")
	if err != nil || !addr.Is4() {
		return "", common.NewErrorf("%w: invalid subnet base %q", ErrValidation, base)
	}
	return base, nil
}

// CheckSubnetCapacity rejects a subnet change that cannot hold the
// server plus every existing peer at its current host number.
func CheckSubnetCapacity(base string, peerIPs []int) error {
	if _, err := ParseSubnetBase(base); err != nil {
		return err
	}
	if len(peerIPs) > maxHostNum-minHostNum+1 {
		return ErrSubnetTooSmall
	}
	for _, ip := range peerIPs {
		if ip < minHostNum || ip > maxHostNum {
			return fmt.Errorf("%w: peer host number %d out of range", ErrSubnetTooSmall, ip)
		}
	}
	return nil
}

// HostAddr joins a subnet base with a host number.
func HostAddr(base string, host int) string {
	return fmt.Sprintf("%s.%d", base, host)
}
