// Package timeline models the editor's project document and the clip edits
// that may be applied to it server side.
//
// Clips reference assets by id, never by path, so in-place asset edits keep
// timelines valid. Caption word times are relative to the clip start: moving
// a caption never touches its words, while trimming or splitting re-bases
// them. No edit may leave a clip at or below MinClipDuration.
package timeline
