// Package generate is the gateway to the remote image and video generation
// provider.
//
// Each request is submitted as a prediction, polled until the provider
// reports a terminal state, downloaded into the session tmp directory and
// registered through the asset service as an AI-generated asset. Kinds that
// start from existing media pick their source with SelectSource, which
// avoids feeding generated output back in as seed material when any
// original footage is available. The HTTP layer runs Generate inside a job
// from internal/jobs.
package generate
