package lockfree

// Version is the current library version.
const Version = "0.1.0"

// Version components for programmatic access.
const (
	VersionMajor = 0
	VersionMinor = 1
	VersionPatch = 0
)

// Info describes the library build.
type Info struct {
	// Version is the semantic version string.
	Version string

	// Reclamation names the memory reclamation scheme.
	Reclamation string

	// Containers lists the provided container kinds.
	Containers []string
}

// GetInfo returns library metadata.
//
// Example:
//
//	info := lockfree.GetInfo()
//	fmt.Printf("lockless %s (%s)\n", info.Version, info.Reclamation)
func GetInfo() Info {
	return Info{
		Version:     Version,
		Reclamation: "hazard pointers",
		Containers:  []string{"queue", "stack", "ring", "hashtable"},
	}
}
