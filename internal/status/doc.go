// Package status defines the container status record kept for every
// karavan-managed container or pod, the composite key used to locate it and
// the transit-window check that tells "not yet visible" apart from "gone".
package status
