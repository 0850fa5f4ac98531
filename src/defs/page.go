package defs

// PageSize is the VM core's page size in bytes. Spec §8's end-to-end
// scenarios are stated in terms of 4096-byte pages; nothing in this
// repo needs to vary it at runtime, so it is a constant rather than a
// boot-time detected value the way a real architecture port would.
const PageSize = 4096

// PageShift is log2(PageSize), used for offset/frame arithmetic.
const PageShift = 12
