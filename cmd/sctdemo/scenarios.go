// The seeded scenarios below are literal inputs with known expected
// outcome sets, used to sanity-check the engine end to end: each one
// exercises a single feature (a relaxed-memory anomaly, a deadlock, a
// CAS race, an STM retry, a masked exception, a snapshot) in isolation.
package main

import (
	"github.com/kolkov/sct/action"
	"github.com/kolkov/sct/ids"
	"github.com/kolkov/sct/interp"
	"github.com/kolkov/sct/memmodel"
	"github.com/kolkov/sct/stm"
)

// scenario is one seeded program plus the description shown by "list".
type scenario struct {
	name    string
	summary string
	program func(ctx *interp.Context)
}

var scenarios = []scenario{
	{
		name:    "store-buffering",
		summary: `x := 0; y := 0; fork { y := 1; read x }; x := 1; return (read y)`,
		program: storeBuffering,
	},
	{
		name:    "deadlock",
		summary: `m := newEmptyMVar; takeMVar m (root)`,
		program: deadlockOnEmptyMVar,
	},
	{
		name:    "cas-contention",
		summary: `two threads CAS the same cell from 0 to their own tid`,
		program: casContention,
	},
	{
		name:    "stm-retry",
		summary: `a transaction retries on a TVar nobody ever writes`,
		program: stmRetry,
	},
	{
		name:    "masked-throwto",
		summary: `thrower targets a thread masked uninterruptible; delivery waits for unmask`,
		program: maskedThrowTo,
	},
	{
		name:    "snapshot-replay",
		summary: `a DontCheck prelude writes 1 into a cell; the unchecked body reads it back`,
		program: snapshotReplay,
	},
}

// storeBuffering is the textbook relaxed-memory anomaly: under SC the
// "both read the old value" interleaving is unreachable, but it is
// reachable under TSO/PSO because each thread's write sits in its own
// buffer until something forces a commit.
func storeBuffering(ctx *interp.Context) {
	ctx.Spawn(action.NewCell{
		Name: "x", Initial: 0,
		Next: func(x ids.ID) action.Action {
			return action.NewCell{
				Name: "y", Initial: 0,
				Next: func(y ids.ID) action.Action {
					return action.Fork{
						Name: "t2",
						Body: action.WriteCell{
							Cell: y, Value: 1,
							Next: func() action.Action {
								return action.ReadCell{
									Cell: x,
									Next: func(r1 memmodel.Value) action.Action {
										return action.Stop{Result: r1}
									},
								}
							},
						},
						Next: func(t2 ids.ID) action.Action {
							return action.WriteCell{
								Cell: x, Value: 1,
								Next: func() action.Action {
									return action.ReadCell{
										Cell: y,
										Next: func(r2 memmodel.Value) action.Action {
											return action.Stop{Result: r2}
										},
									}
								},
							}
						},
					}
				},
			}
		},
	}, false)
}

// deadlockOnEmptyMVar is the simplest possible deadlock: a single
// thread blocks forever taking from an MVar nobody will ever fill.
func deadlockOnEmptyMVar(ctx *interp.Context) {
	ctx.Spawn(action.NewMVar{
		Name: "m",
		Next: func(m ids.ID) action.Action {
			return action.TakeMVar{
				MVar: m,
				Next: func(memmodel.Value) action.Action { return action.Stop{} },
			}
		},
	}, false)
}

// casContention has two threads race to CAS a shared cell from 0 to
// their own thread id; exactly one wins in every interleaving, and
// both outcomes are reachable regardless of memory model since CAS is
// always barriered.
func casContention(ctx *interp.Context) {
	ctx.Spawn(action.NewCell{
		Name: "winner", Initial: 0,
		Next: func(cell ids.ID) action.Action {
			return action.MyThreadID{
				Next: func(root ids.ID) action.Action {
					return action.Fork{
						Name: "contender",
						Body: action.MyThreadID{
							Next: func(self ids.ID) action.Action {
								return action.CASCell{
									Cell: cell, Ticket: 0, Value: self,
									Next: func(ok bool) action.Action {
										if ok {
											return action.Stop{Result: self}
										}
										return action.ReadCell{
											Cell: cell,
											Next: func(v memmodel.Value) action.Action { return action.Stop{Result: v} },
										}
									},
								}
							},
						},
						Next: func(ids.ID) action.Action {
							return action.CASCell{
								Cell: cell, Ticket: 0, Value: root,
								Next: func(ok bool) action.Action {
									if ok {
										return action.Stop{Result: root}
									}
									return action.ReadCell{
										Cell: cell,
										Next: func(v memmodel.Value) action.Action { return action.Stop{Result: v} },
									}
								},
							}
						},
					}
				},
			}
		},
	}, false)
}

// stmRetry blocks the root in a transaction that retries on a TVar
// that is allocated but never written by anyone -- the retry can never
// be woken, so the only outcome is STMDeadlock.
func stmRetry(ctx *interp.Context) {
	ctx.Spawn(action.NewTVar{
		Name: "never-written", Initial: 0,
		Next: func(tv ids.ID) action.Action {
			return action.Atomic{
				Tx: func(tx *stm.Tx) stm.Value {
					v := tx.ReadTVar(tv)
					if v == 0 {
						tx.Retry()
					}
					return v
				},
				Next: func(result action.Value) action.Action { return action.Stop{Result: result} },
			}
		},
	}, false)
}

// maskedThrowTo forks a victim that enters MaskedUninterruptible before
// the thrower's ThrowTo can land; the exception must stay pending until
// the victim unmasks, so the observable outcome is always a clean
// success, never the exception.
func maskedThrowTo(ctx *interp.Context) {
	ctx.Spawn(action.NewMVar{
		Name: "ready", Full: false,
		Next: func(ready ids.ID) action.Action {
			return action.MyThreadID{
				Next: func(root ids.ID) action.Action {
					return action.Fork{
						Name: "victim",
						Body: action.Masking{
							Level: action.MaskedUninterruptible,
							Body: func(unmask action.Unmask, resume func(action.Value) action.Action) action.Action {
								return action.PutMVar{
									MVar: ready, Value: true,
									Next: func() action.Action {
										return unmask(action.Yield{
											Next: func() action.Action { return resume(nil) },
										})
									},
								}
							},
							Next: func(action.Value) action.Action { return action.Stop{Result: "victim-done"} },
						},
						Next: func(victim ids.ID) action.Action {
							return action.TakeMVar{
								MVar: ready,
								Next: func(memmodel.Value) action.Action {
									return action.ThrowTo{
										Target: victim, Err: "boom",
										Next: func() action.Action { return action.Stop{Result: "thrower-done"} },
									}
								},
							}
						},
					}
				},
			}
		},
	}, false)
}

// snapshotReplay puts a deterministic write inside a DontCheck prelude
// (§4.I) ahead of the checked body that reads the value back; every
// explored schedule must observe the write, snapshot-restored or not,
// since the prelude always runs to completion before exploration
// branches at all.
func snapshotReplay(ctx *interp.Context) {
	ctx.Spawn(action.DontCheck{
		Body: func(resume func(action.Value) action.Action) action.Action {
			return action.NewCell{
				Name: "flag", Initial: 0,
				Next: func(cell ids.ID) action.Action {
					return action.WriteCell{
						Cell: cell, Value: 1,
						Next: func() action.Action { return resume(cell) },
					}
				},
			}
		},
		Next: func(v action.Value) action.Action {
			return action.ReadCell{
				Cell: v.(ids.ID),
				Next: func(v memmodel.Value) action.Action { return action.Stop{Result: v} },
			}
		},
	}, false)
}
