package retrieval

// IndexState describes the lifecycle of the persisted index pair. Transitions
// are driven only by Reload (validation) and the build operations; readers
// never infer state from partially written files.
type IndexState int

const (
	// StateAbsent means no index pair exists: retrieval returns empty results.
	StateAbsent IndexState = iota
	// StateBuilding means a build is in progress; reads serve the previous pair.
	StateBuilding
	// StateReady means a consistent pair is loaded and serving.
	StateReady
	// StateCorrupted means index and metadata lengths diverged; the pair must
	// be rebuilt from scratch before retrieval resumes.
	StateCorrupted
)

// String returns the state name.
func (s IndexState) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateBuilding:
		return "building"
	case StateReady:
		return "ready"
	case StateCorrupted:
		return "corrupted"
	default:
		return "unknown"
	}
}
