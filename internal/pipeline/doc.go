// Package pipeline declares the default business-analysis task catalog.
//
// The arithmetic inside each agent is placeholder work so the binary runs
// end to end; the orchestration around it is what matters. Real deployments
// register their own agents under the same names.
package pipeline
