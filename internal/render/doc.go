// Package render flattens a timeline into one browser-playable MP4.
//
// A render runs five named stages: validate, probe, motion_graphics, compose
// and encode. Motion-graphic clips are rendered first by the animation
// renderer into transparent overlay assets and then composited like any
// other media clip. The compositor emits a single ffmpeg filter graph over a
// solid base canvas; audio from every audible clip is delayed into place and
// mixed. Output is staged in the session tmp directory and moved into
// renders/ only once encoding succeeded.
package render
