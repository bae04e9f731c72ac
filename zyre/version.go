package zyre

import "fmt"

// Version is a transport library version triple.
type Version struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
	Patch int `json:"patch"`
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// TransportVersion returns the version of the library behind backend.
func TransportVersion(backend Backend) Version {
	return backend.Version()
}
