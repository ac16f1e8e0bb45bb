// Package animation describes motion-graphic scenes and renders them with an
// external CLI into transparent ProRes 4444 overlays.
//
// A Scene is a tagged union keyed by "kind". The renderer always targets one
// composition and passes the scene as its props, so adding a template only
// touches the renderer project and the Content types here. Rendered files are
// registered as assets with source "animation" and the scene stored in their
// metadata, which is what Edit re-renders from.
package animation
