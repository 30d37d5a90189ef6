// Package cli holds the pieces shared by the karavan client commands:
// common flags, server URL resolution and output rendering.
//
// Container statuses can be rendered as a table, a wide table, JSON or
// YAML. Tables use go-pretty with the rounded style; --no-headers switches
// to a borderless layout that is easy to pipe into other tools.
package cli
