package config

import (
	"regexp"
	"strconv"

	"gitlab.com/tozd/go/errors"
)

var nvmePattern = regexp.MustCompile(`^(nvme\d+):?(\d+)?$`)

// NVMeSpec describes one emulated NVMe controller and its namespaces
type NVMeSpec struct {
	Raw        string
	ID         string
	Namespaces int
	SizeGB     int
	FDP        bool
	SRIOV      bool
}

// IsNVMeSpec reports whether s names an emulated NVMe controller (nvme0, nvme1:4)
func IsNVMeSpec(s string) bool {
	return nvmePattern.MatchString(s)
}

// ParseNVMeSpec parses "nvme<N>[:<namespaces>]". Without an explicit count the
// configured namespace count applies; size and capability flags always come from cfg.
func ParseNVMeSpec(s string, cfg Config) (NVMeSpec, error) {
	m := nvmePattern.FindStringSubmatch(s)
	if m == nil {
		return NVMeSpec{}, errors.Errorf("%w: invalid NVMe spec %q", ErrConfiguration, s)
	}

	spec := NVMeSpec{
		Raw:        s,
		ID:         m[1],
		Namespaces: cfg.Namespaces,
		SizeGB:     cfg.NamespaceSizeGB,
		FDP:        cfg.FDP,
		SRIOV:      cfg.SRIOV,
	}

	if m[2] != "" {
		n, err := strconv.Atoi(m[2])
		if err != nil || n < 1 {
			return NVMeSpec{}, errors.Errorf("%w: invalid namespace count in %q", ErrConfiguration, s)
		}
		spec.Namespaces = n
	}

	if spec.Namespaces < 1 {
		spec.Namespaces = 1
	}
	if spec.SizeGB < 1 {
		spec.SizeGB = 1
	}

	return spec, nil
}
