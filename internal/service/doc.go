package service

// Package service executes jobs: it fans out one lifecycle runner per
// analyzer of a job and periodically reaps jobs stuck in a non-terminal
// status.
//
// Data flow:
//
//	Executor                Runner{analyzer}          Aggregator
//	    |                        |                        |
//	run -> mark job running      |                        |
//	    | start N runners ------>| Start()                |
//	    |                        | run analyzer           |
//	    |                        | finalize report ------>| Submit()
//	    |                        |                        | append + maybe close job
//	    |<----- wait all --------|                        |
//	    | reload final job       |                        |
//
// Invariants:
//   - One runner per analyzer name, all running concurrently with a limit.
//   - A failing analyzer never cancels its siblings.
//   - An analyzer which cannot even be constructed still yields a failed
//     report, so the expected report count always adds up.
//   - The final status transition happens inside the Aggregator, the
//     executor only reads it back.
