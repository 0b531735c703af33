package policy

// builtinModule is the default authorization ruleset. Operators may ship
// their own modules in the policy directory, which replace this one.
//
// Rules receive {rule, target, credentials} as input. Ownership checks that
// need database state (resource admin, lessee restriction, parent chains)
// stay in the engine; policy decides role- and party-based access.
const builtinModule = `package metalease.authz

import rego.v1

default allow := false

is_admin if {
	"admin" in input.credentials.roles
}

is_target_project if {
	input.credentials.project_id == input.target.project_id
}

is_target_owner if {
	input.credentials.project_id == input.target.owner_id
}

is_target_party if {
	input.credentials.project_id in [input.target.from_owner_id, input.target.to_owner_id]
}

# Admins may do anything.
allow if is_admin

# Offers: any project may create or claim; the engine enforces resource
# administration and lessee restrictions. Mutations need the owning project.
allow if {
	input.rule == "metalease:offer:create"
}

allow if {
	input.rule == "metalease:offer:get"
}

allow if {
	input.rule == "metalease:offer:claim"
}

allow if {
	input.rule == "metalease:offer:delete"
	is_target_project
}

# Leases: reads for either party, mutations for the lessee or the owner.
allow if {
	input.rule == "metalease:lease:create"
}

allow if {
	input.rule == "metalease:lease:get"
	is_target_project
}

allow if {
	input.rule == "metalease:lease:get"
	is_target_owner
}

allow if {
	input.rule == "metalease:lease:delete"
	is_target_project
}

allow if {
	input.rule == "metalease:lease:delete"
	is_target_owner
}

# Owner changes are administrative: only admins create them, either party
# may read or cancel.
allow if {
	input.rule == "metalease:owner_change:get"
	is_target_party
}

allow if {
	input.rule == "metalease:owner_change:delete"
	is_target_party
}

# Events are visible to their parties; the API additionally filters rows.
allow if {
	input.rule == "metalease:event:get"
}

# Console tokens go to the active lessee; the engine verifies the lease.
allow if {
	input.rule == "metalease:console:create"
}

allow if {
	input.rule == "metalease:console:delete"
}

# Node listing is open to authenticated callers.
allow if {
	input.rule == "metalease:node:get"
}
`
