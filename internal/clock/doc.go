// Package clock provides the time source used by the sync engine.
//
// Components never call time.Now or time.After directly. They take a Clock so
// retry scheduling, timestamps and weekly counters are deterministic in tests.
package clock
