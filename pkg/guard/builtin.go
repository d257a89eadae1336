package guard

// BuiltinPolicies returns the policies compiled into the binary.
func BuiltinPolicies() []Policy {
	return []Policy{
		worldScopePolicy(),
		passwordFloorPolicy(),
		worldNamingPolicy(),
	}
}

// worldScopePolicy denies selecting a world owned by another guild.
func worldScopePolicy() Policy {
	return Policy{
		Name:        "world-scope",
		Description: "Denies operations on worlds owned by another guild",
		Severity:    SeverityError,
		Builtin:     true,
		Rego: `package huginbot.guard.scope

import rego.v1

deny contains violation if {
	input.world
	input.world.scope != ""
	input.guild != ""
	input.world.scope != input.guild
	violation := {
		"message": sprintf("world '%s' belongs to another community", [input.world.name]),
		"severity": "error",
	}
}

# An operation with no guild at all cannot claim a scoped world.
deny contains violation if {
	input.world
	input.world.scope != ""
	input.guild == ""
	violation := {
		"message": sprintf("world '%s' requires a guild context", [input.world.name]),
		"severity": "error",
	}
}`,
	}
}

// passwordFloorPolicy denies activating worlds whose password is shorter
// than the game server accepts.
func passwordFloorPolicy() Policy {
	return Policy{
		Name:        "password-floor",
		Description: "Denies activating worlds with passwords under 5 characters",
		Severity:    SeverityError,
		Builtin:     true,
		Rego: `package huginbot.guard.password

import rego.v1

# Operations that persist or launch a world configuration.
activating_operations := ["start", "set-default"]

deny contains violation if {
	input.world
	some op in activating_operations
	input.operation == op
	input.world.password_len < 5
	violation := {
		"message": sprintf("world '%s' has a password shorter than 5 characters", [input.world.name]),
		"severity": "error",
	}
}`,
	}
}

// worldNamingPolicy warns about display names players will have trouble
// typing into the world selector.
func worldNamingPolicy() Policy {
	return Policy{
		Name:        "world-naming",
		Description: "Warns about display names with surrounding whitespace or control characters",
		Severity:    SeverityWarning,
		Builtin:     true,
		Rego: `package huginbot.guard.naming

import rego.v1

deny contains violation if {
	input.world
	name := input.world.name
	trim_space(name) != name
	violation := {
		"message": sprintf("world name '%s' has leading or trailing whitespace", [name]),
		"severity": "warning",
	}
}

deny contains violation if {
	input.world
	name := input.world.name
	regex.match("[\\p{Cc}]", name)
	violation := {
		"message": sprintf("world name '%s' contains control characters", [name]),
		"severity": "warning",
	}
}`,
	}
}
