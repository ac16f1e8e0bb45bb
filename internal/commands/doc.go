// Package commands applies structured media transformations to assets.
//
// A command is a Spec: a JSON object whose "op" selects one Operation
// variant (trim, crop, speed, reframe, ...). Each variant validates its own
// fields against the probed media and renders ffmpeg arguments through
// internal/media/ffmpeg, so nothing user-supplied ever reaches a shell.
// Engine.Apply runs the command through assets.Edit: output is staged in the
// session tmp directory, swapped over the original only on success, and the
// asset keeps its id while editCount increments.
//
// LLMAdvisor turns a natural-language instruction into a Spec with an
// explanation. It never executes anything; the client applies the returned
// command explicitly.
package commands
