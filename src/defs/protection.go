package defs

// Prot_t is the protection/placement bitset attached to an area, mirroring
// Haiku's B_*_AREA flags (headers/private/kernel/vm_types.h) collapsed onto
// one field per §3's Area data model ("protection bits (user/kernel
// read/write/execute, stack marker, overcommit marker)").
type Prot_t uint32

const (
	ProtRead       Prot_t = 1 << 0
	ProtWrite      Prot_t = 1 << 1
	ProtExecute    Prot_t = 1 << 2
	ProtUser       Prot_t = 1 << 3
	ProtKernel     Prot_t = 1 << 4
	ProtStack      Prot_t = 1 << 5 /// guarded stack area; growth direction set separately
	ProtOvercommit Prot_t = 1 << 6 /// backing AnonStore may overcommit
)

// Allows reports whether the protection set permits the given access kind.
func (p Prot_t) Allows(access AccessKind) bool {
	switch access {
	case AccessRead:
		return p&ProtRead != 0
	case AccessWrite:
		return p&ProtWrite != 0
	case AccessExecute:
		return p&ProtExecute != 0
	default:
		return false
	}
}

// AccessKind names the kind of access that triggered a page fault.
type AccessKind int

const (
	AccessRead AccessKind = iota
	AccessWrite
	AccessExecute
)

func (a AccessKind) String() string {
	switch a {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	case AccessExecute:
		return "execute"
	default:
		return "unknown"
	}
}

// StackDirection names which end of a stack area's address range grows.
type StackDirection int

const (
	StackGrowsDown StackDirection = iota
	StackGrowsUp
)

// Placement_t names an area-allocation placement policy (§4.2).
type Placement_t int

const (
	PlaceExact       Placement_t = iota /// exact address
	PlaceAny                            /// any address
	PlaceAnyAbove                       /// any address above a given base
	PlaceKernelBlock                    /// any kernel block-aligned address
)

// Wiring_t names an area's wiring policy.
type Wiring_t int

const (
	WiringNone    Wiring_t = iota /// pageable
	WiringWired                   /// locked into physical memory
	WiringAlready                 /// mapping physical memory already wired (device/clone)
)

// TeamID identifies the owner of an address space (a process id, or the
// distinguished kernel id).
type TeamID int64

// KernelTeam is the distinguished team id naming the kernel's own address
// space (§4.1: "an id (equal to the owning team id, with a distinguished
// kernel id)").
const KernelTeam TeamID = -1

// AreaID identifies one allocated area, unique within its address space's
// lifetime.
type AreaID int64

// Tid_t identifies the thread a page fault occurred on, used only to route
// the resulting signal (§7); the thread/scheduler subsystem itself is out
// of scope here (§1).
type Tid_t int64
