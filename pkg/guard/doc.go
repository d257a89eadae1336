// Package guard gates lifecycle operations with Open Policy Agent (OPA)
// policies written in Rego.
//
// The controller consults the guard before every mutating operation
// (start, stop, set-default). Each policy contributes to a `deny` set;
// any violation with error severity blocks the operation, while warning
// severity is reported but does not block.
//
// # Usage
//
// Creating an engine and checking an operation:
//
//	eng, err := guard.New(guard.Config{Enabled: true}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	decision, err := eng.Check(ctx, &guard.Input{
//	    Operation: guard.OpStart,
//	    Guild:     "guild-a",
//	    World: &guard.WorldInput{
//	        Name:        "Midgard",
//	        ID:          "midgard-main",
//	        Scope:       "guild-a",
//	        PasswordLen: 8,
//	    },
//	})
//
//	if !decision.Allowed {
//	    for _, v := range decision.Violations {
//	        fmt.Printf("%s: %s\n", v.Policy, v.Message)
//	    }
//	}
//
// # Built-in Policies
//
// Three policies ship with the engine:
//
//  1. world-scope - denies selecting a world owned by another guild
//  2. password-floor - denies activating a world whose password is
//     shorter than the game server accepts
//  3. world-naming - warns about display names with leading or trailing
//     whitespace or control characters
//
// # Operator Policies
//
// Operators may drop additional .rego files into a policy directory.
// Each file contributes its own `deny` set over the same input document:
//
//	package community.guard.quiet_hours
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.operation == "stop"
//	    input.force
//	    violation := {
//	        "message": "forced stops are not allowed here",
//	        "severity": "error",
//	    }
//	}
//
// The directory is re-read on file changes when watching is enabled.
//
// # Disabled Guard
//
// A disabled engine allows every operation without evaluating anything,
// so callers never need to special-case the configuration.
package guard
