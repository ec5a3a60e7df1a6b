// Package harness runs notebook scenarios as executable contract tests.
//
// A scenario is a YAML file describing a sequence of cell edits and runs
// against a fresh in-memory session, with optional expectations on each
// step and assertions on the final chain.
//
// # Scenario Format
//
//	name: reorder_heal
//	description: "Moving a definition above a consumer re-runs the consumer"
//	steps:
//	  - cell: "111"
//	    code: "x = 42"
//	    expect:
//	      outputs: { x: "42" }
//	  - cell: "333"
//	    after: "111"
//	    code: "x"
//	    expect:
//	      display: "42"
//	  - cell: "333"          # no code: run the cell as it is
//	assertions:
//	  - type: positions
//	    labels: ["111:1", "333:2"]
//	  - type: refcount
//	    value: "42"
//	    count: 1
//
// A step with code is InsertAndRun; a step without code is Run. The after
// field is only used together with code and defaults to the head.
//
// Values in expectations are Starlark reprs, as printed by the value's
// String method. Expected errors are given by class: syntax,
// undefined_name, execution, serialization or unknown_node.
//
// # Assertion Types
//
//   - positions: the final Positions of the chain as "id:label" strings
//   - valid: whether a cell is valid at the end of the scenario
//   - refcount: the refcount of the value that an expression evaluates to
//   - store_size: the number of values held by the store
//
// # Deterministic Testing
//
// Every scenario runs with a fixed session id (testutil.FixedIDGenerator),
// a discarded log and print output captured per step, so traces compare
// byte for byte against golden files. Traces carry reprs and position
// labels rather than content hashes; the chain fingerprint is reported
// on the Result separately.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/reorder_heal.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(ctx, scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
