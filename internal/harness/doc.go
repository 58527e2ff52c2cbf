// Package harness runs scripted job scenarios against the real scheduler.
//
// A scenario names a small task catalog, scripts what each task's agent does
// on every attempt, and states the expected outcome. The harness builds the
// catalog, runs one job through a fresh SQLite database and the full stack
// (state store, broadcaster, engine, gate, job manager) and checks the
// result.
//
// # Scenario Format
//
//	name: retry_then_succeed
//	description: "A transient failure is retried"
//	params: { company: Acme }
//	tasks:
//	  - name: profile
//	    required: true
//	    steps:
//	      - fail: "rate limited"
//	      - data: { value: 10 }
//	  - name: valuation
//	    deps: [profile]
//	    soft: [market]
//	    max_retries: 1
//	    timeout: 50ms
//	    only_if: { analysis_type: full }
//	    fallback: { value: 0 }
//	    steps:
//	      - hang: true
//	      - permanent: "bad input"
//	synthesis:
//	  sum: value
//	  fields: { recommendation: buy }
//	gate:
//	  required:
//	    - { path: enterprise_value, kind: number }
//	expect:
//	  status: COMPLETED
//	  tasks:
//	    profile: { status: COMPLETED, attempts: 2 }
//	  valid: true
//	  synthesized: { enterprise_value: 10 }
//
// Each step is one attempt. The last step repeats once the script runs out.
// The synthesis step sums the named numeric field over every section it can
// see, fallbacks included, into enterprise_value.
//
// # Golden Snapshots
//
// RunWithGolden stores the canonical JSON outcome under testdata/golden.
// Regenerate with:
//
//	go test ./internal/harness -update
package harness
