// Package recur drives recurring tasks.
//
// # Lifecycle
//
// A task moves through three states:
//
//	Dormant    no recurrence_info, or a generated child instance
//	Scheduled  time-based effect with a known next occurrence; one clock
//	           subscription is active for the task
//	Due        the next occurrence has passed, or a rollOnCompletion task
//	           was completed
//
// Processing an occurrence returns the task to Scheduled.
//
// # Effects
//
//	rollOnBasis       dates roll forward in place when the basis date passes
//	rollOnCompletion  dates roll forward in place when the task is completed
//	stack             the subtree is duplicated; copies are marked completed
//	                  with dates one step ahead and the originals stop recurring
//
// Rolling advances every date in the subtree by whole frequency steps until
// the root's basis date is in the future, and clears completion.
//
// # Clock Subscriptions
//
// The Engine keeps one clock subscription per scheduled task in a
// SchedulerState. When a tick passes the task's next occurrence and the
// application is visible, the engine asks for a full remote refetch instead
// of mutating the cache: the refetch reconciles through replaceAll, which
// re-evaluates every task against fresh data.
//
// # Resync
//
// On every full cache replacement the engine:
//  1. deletes stale completed root tasks (see Config.StaleAfter)
//  2. processes every task that is already due
//  3. rebuilds the subscription map from scratch
package recur
