// Package lifecycle coordinates singleton components through a shared
// two-phase startup.
//
// A Coordinator guarantees that at most one live instance exists per declared
// Kind. Every instance is constructed by the hosting runtime and claims its
// kind's slot through Construct; losers of the claim are reported back to the
// runtime for disposal and take no further part in the lifecycle. Winners are
// then driven through a deferred start phase: Handle.Start blocks until every
// winner constructed in the same cohort has also requested start, releases
// the whole cohort in one broadcast, and runs the instance's AfterStart hook.
//
// The Barrier that backs this is an explicit value owned by the Coordinator,
// so its reset rules are testable in isolation: the moment the last member of
// a cohort arrives, the counters reset and the next cohort starts clean, the
// way a fresh deployment after a full teardown would expect.
package lifecycle
