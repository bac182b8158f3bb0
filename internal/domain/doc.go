// Package domain holds the core entities of the campaign delivery engine:
// campaigns, per-recipient delivery records, the append-only engagement
// event log, and suppression entries.
//
// Types here carry no behavior beyond invariant checks. All persistence goes
// through the repository interfaces defined in the service packages, with
// implementations in repository/postgres/ and repository/memory/.
package domain
