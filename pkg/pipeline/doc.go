// Package pipeline runs the ingestion stages as an explicit dependency graph.
//
// The graph holds four nodes:
//
//	scrape -> enrich -> load -> transform
//	   \________________/
//
// Nodes execute in topological order within a single trigger. A node whose
// dependency failed or was blocked is itself blocked, so load never reports
// success for a partition whose enrichment failed. Nothing is carried between
// triggers: every run starts from the first node.
//
// The Orchestrator allows one run at a time, both inside the process and
// across processes through a lock file. A trigger that arrives while a run is
// in flight is refused with ErrRunInProgress after being logged and counted.
package pipeline
