// Package services wires the extractd services from configuration.
//
// Build opens the database, lock backend, object storage, event bus and
// the optional remote clients, then assembles the domain services and the
// orchestrator on top of them. Remote services that are not configured are
// left out: the orchestrator and the post-pipeline skip the steps that need
// them. Use the Registry accessors to reach individual services and Close
// to release connections.
package services
