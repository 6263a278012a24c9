package common

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/vishvananda/netlink"
)

func ErrorMessages(errors []error) string {
	var result []string
	for _, err := range errors {
		result = append(result, err.Error())
	}
	return strings.Join(result, "\n")
}

// LinkIndex resolves an interface given either by name or by its
// numeric index.
func LinkIndex(nameOrIndex string) (uint32, error) {
	if ifindex, err := strconv.ParseUint(nameOrIndex, 10, 32); err == nil {
		return uint32(ifindex), nil
	}
	link, err := netlink.LinkByName(nameOrIndex)
	if err != nil {
		return 0, errors.Wrapf(err, "looking up interface %q", nameOrIndex)
	}
	return uint32(link.Attrs().Index), nil
}

// LinkName returns the name of the interface with the given index.
func LinkName(ifindex uint32) (string, error) {
	link, err := netlink.LinkByIndex(int(ifindex))
	if err != nil {
		return "", errors.Wrapf(err, "looking up interface index %d", ifindex)
	}
	return link.Attrs().Name, nil
}
