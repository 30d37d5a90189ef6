// Package containerizer abstracts the substrate that owns karavan's
// containers.
//
// Runtime is the single capability interface the rest of karavan talks to.
// Two implementations exist and one of them is selected at startup by
// NewRuntime:
//
//   - DockerRuntime drives a local Docker engine through the Docker SDK and
//     follows the engine event stream for lifecycle signals.
//   - KubernetesRuntime maps containers to pods in one namespace, renders
//     pods from a sprig-enabled template, reads usage from metrics.k8s.io
//     and follows pods with a controller-runtime informer.
//
// Both report containers as Object values labelled with the karavan labels
// (LabelProjectID, LabelType, LabelEnv) and wrap every failure in a
// *RuntimeError so callers can tell runtime failures apart from their own.
//
// DetectEnvironment describes where the karavan process itself runs. It is
// computed once and passed to the components that care.
package containerizer
