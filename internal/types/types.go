// Package types holds the data model shared across the scan pipeline:
// requests, warnings, phases, and the records the scheduler publishes.
//
// Folder and group records are addressed by integer index rather than
// pointer. Folder trees kept as pointer graphs grow ancestor back-refs that
// make bulk persistence and cycle-free traversal harder than they need to
// be; an arena of records plus an int parent link sidesteps both problems
// and is cheap to spill to disk a record at a time.
package types

import (
	"time"
)

// FileEqualityMode selects how two files are judged "the same".
type FileEqualityMode string

const (
	EqualityNameSize FileEqualityMode = "name_size"
	EqualitySHA256   FileEqualityMode = "sha256"
)

// StructurePolicy selects how a file's identity key is constructed from its
// path within a folder.
type StructurePolicy string

const (
	StructureRelative   StructurePolicy = "relative"
	StructureBagOfFiles StructurePolicy = "bag_of_files"
)

// WarningType classifies a non-fatal condition recorded during a scan.
type WarningType string

const (
	WarningPermission WarningType = "permission"
	WarningUnstable    WarningType = "unstable"
	WarningIOError     WarningType = "io_error"
)

// FolderLabel classifies a GroupInfo cluster.
type FolderLabel string

const (
	LabelIdentical      FolderLabel = "identical"
	LabelNearDuplicate   FolderLabel = "near_duplicate"
	LabelPartialOverlap  FolderLabel = "partial_overlap"
)

// ScanStatus is the lifecycle status of a ScanState.
type ScanStatus string

const (
	StatusPending   ScanStatus = "pending"
	StatusRunning   ScanStatus = "running"
	StatusCompleted ScanStatus = "completed"
	StatusFailed    ScanStatus = "failed"
	StatusCancelled ScanStatus = "cancelled"
)

// Phase is a stage of the scan scheduler's state machine.
type Phase string

const (
	PhaseWalking     Phase = "walking"
	PhaseAggregating Phase = "aggregating"
	PhaseGrouping    Phase = "grouping"
	PhaseDone        Phase = "done"
)

// ScanRequest is the input contract a transport layer submits to the core.
// The scheduler checks path existence; threshold bounds are checked by the
// caller (the CLI's flag parsing). This struct only carries already-parsed
// values.
type ScanRequest struct {
	RootPath              string
	Include               []string
	Exclude               []string
	FileEquality          FileEqualityMode
	SimilarityThreshold   float64
	StructurePolicy       StructurePolicy
	ForceCaseInsensitive  bool
	Concurrency           int
	DeletionEnabled       bool
}

// Warning is a recovered, non-fatal condition encountered during a scan.
type Warning struct {
	Path    string
	Type    WarningType
	Message string
}

// Stats are the running counters the walker updates atomically and the
// scheduler publishes as part of ScanState snapshots.
type Stats struct {
	FoldersScanned int64
	FilesScanned   int64
	BytesScanned   int64
	Workers        int
}

// PhaseTiming records the wall-clock bounds and per-phase counters the
// scheduler emits in metrics (§4.6).
type PhaseTiming struct {
	Phase            Phase
	StartTime        time.Time
	EndTime          time.Time
	BytesScannedDelta int64
	FoldersProcessed int64
	FilesProcessed   int64
	PeakRSSBytes     int64
	WorkersActive    int
}

// ResourceSample is a point-in-time snapshot of process resource usage,
// taken at phase boundaries (supplements §4.6's "peak_rss (sampled)").
type ResourceSample struct {
	Timestamp        time.Time
	CPUCores         int
	Load1            float64
	ProcessRSSBytes  int64
	ProcessReadBytes  int64
	ProcessWriteBytes int64
}

// ScanState is the lifecycle record the scheduler owns and mutates.
// Observers only ever see a copy-on-emit snapshot (ScanSnapshot), never a
// live reference.
type ScanState struct {
	ScanID    string
	RootPath  string
	Status    ScanStatus
	Phase     Phase
	Phases    []PhaseTiming
	Stats     Stats
	Warnings  []Warning
	Report    *ScanReport
	LastPath  string
	Request   ScanRequest
}

// ScanSnapshot is the copy-on-publish view of a ScanState exposed to
// progress subscribers (§9 "Progress publication").
type ScanSnapshot struct {
	ScanID      string
	Status      ScanStatus
	Phase       Phase
	Phases      []PhaseTiming
	Stats       Stats
	Warnings    []Warning
	LastPath    string
	Progress    *float64 // nil = indeterminate
	ETASeconds  *int64
}

// ScanReport is the final, immutable result of a completed scan.
type ScanReport struct {
	ScanID        string
	RootPath      string
	Groups        []GroupInfo
	FolderIndexRef string
	Metrics       []PhaseTiming
	ResourceSamples []ResourceSample
	Warnings      []Warning
}

// FolderInfo is the per-folder roll-up (§3). FileWeights is keyed by file
// identity and is populated by the aggregator; callers that only need the
// lightweight summary should use the scalar fields and avoid holding large
// scans' maps in memory simultaneously.
type FolderInfo struct {
	Path           string
	RelativePath   string
	TotalBytes     int64
	FileCount      int
	FileWeights    map[string]int64
	FingerprintHash uint64
	Unstable       bool

	// ParentIndex is the index of this folder's parent in the aggregator's
	// arena, or -1 for the root. Using an int rather than a pointer avoids
	// cycles and makes the arena trivially serializable.
	ParentIndex int
	Index       int

	// RepresentativePath is the scan-root-relative path of one file found
	// anywhere beneath this folder (direct or nested), retained so the
	// deletion planner can re-stat a real file's (size, mtime) and detect
	// drift before quarantining (§4.7). Empty when the folder holds no
	// files anywhere beneath it.
	RepresentativePath  string
	RepresentativeSize  int64
	RepresentativeMTime time.Time
}

// PairwiseSimilarity is one sparse edge in a GroupInfo's similarity matrix.
type PairwiseSimilarity struct {
	I, J       int
	Similarity float64
}

// Divergence summarizes one of the top byte-weight deltas between two
// non-identical group members (SUPPLEMENTED FEATURES).
type Divergence struct {
	Identity   string
	DeltaBytes int64
}

// GroupInfo is a cluster of similar folders (§3).
type GroupInfo struct {
	GroupID               string
	Label                 FolderLabel
	CanonicalIndex        int
	Members               []FolderInfo
	PairwiseSimilarity    []PairwiseSimilarity
	SuppressedDescendants bool
	Divergences           []Divergence
}

// DiffEntry is one identity present on only one side of a group diff.
type DiffEntry struct {
	Identity string
	Bytes    int64
}

// MismatchEntry is an identity present on both sides with differing weight.
type MismatchEntry struct {
	Identity   string
	LeftBytes  int64
	RightBytes int64
}

// GroupDiff is the output of the diff projector (§4.8).
type GroupDiff struct {
	Left       FolderInfo
	Right      FolderInfo
	OnlyLeft   []DiffEntry
	OnlyRight  []DiffEntry
	Mismatched []MismatchEntry
}

// DeletionPlan is a staged-but-not-applied quarantine operation (§3).
type DeletionPlan struct {
	PlanID           string
	ScanID           string
	Token            string
	CreatedAt        time.Time
	ExpiresAt        time.Time
	Queue            []string
	ReclaimableBytes int64
	Root             string
	QuarantineRoot   string
}

// DeletionResult is the outcome of confirming a DeletionPlan.
type DeletionResult struct {
	PlanID         string
	MovedCount     int
	BytesMoved     int64
	FailedPaths    []string
	QuarantineRoot string
	Root           string
}

// Semaphore implements a counting semaphore over a buffered channel. It
// limits concurrent access to a resource by blocking when the limit is
// reached — the walker uses it to bound concurrent directory listings and
// the scheduler to bound concurrent scans.
type Semaphore chan struct{}

// NewSemaphore creates a semaphore that allows up to n concurrent
// acquisitions.
func NewSemaphore(n int) Semaphore { return make(chan struct{}, n) }

// Acquire blocks until a slot is available, then claims it.
func (s Semaphore) Acquire() { s <- struct{}{} }

// Release frees a slot, unblocking one waiting Acquire call.
func (s Semaphore) Release() { <-s }
