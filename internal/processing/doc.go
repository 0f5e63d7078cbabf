// Package processing defines the opaque per-operation processing functions and
// their default implementation.
//
// A Set holds exactly one handler per operation and Lookup resolves them with
// an exhaustive switch. NewCommandSet wires each handler to an external
// command configured under [processing.commands]: the command receives a JSON
// request on stdin and must print a JSON object on stdout.
package processing
