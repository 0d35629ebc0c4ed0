// Package core defines the shared language of the exa system.
//
// This package contains:
//   - Domain entities (Build, Job, StepResult)
//   - Service interfaces (Store)
//   - Lint primitives (Severity, RuleInfo)
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core
