// Package harness runs YAML scenarios against the real engine.
//
// Each scenario submits one operation to a fresh engine backed by an
// isolated SQLite file, with every executor replaced by a scripted one and
// time driven by a step clock, so retries and backoff complete instantly
// and deterministically. The final operation is checked against the
// scenario's expectations and reduced to a Snapshot for golden comparison.
//
// # Scenario Format
//
//	name: async_notify_retry
//	description: "sms fails twice, then succeeds"
//	policy:
//	  max_attempts: 3
//	  base_delay: 1s
//	submit:
//	  type: send_notification
//	  async: true
//	  channels:
//	    - channel: email
//	      payload: { to: ["a@example.com"], subject: "hi" }
//	    - channel: sms
//	script:
//	  sms:
//	    - fail: gateway timeout
//	    - fail: gateway timeout
//	    - ok
//	expect:
//	  status: done
//	  min_elapsed: 3s
//	  channels:
//	    sms: { status: done, attempts: 3 }
//
// Script keys are channel kinds; the implicit channel of a request with no
// channels is scripted as "implicit". Unscripted channels succeed. Once a
// script runs out its last step repeats.
//
// Async submissions are run to completion with Engine.Drain; sync
// submissions complete inside Submit.
package harness
