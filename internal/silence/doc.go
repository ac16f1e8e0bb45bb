// Package silence removes dead air from an asset.
//
// A run moves through detecting, extracting and concatenating states:
// ffmpeg's silencedetect finds quiet stretches, the complementary keep
// intervals are re-encoded as independent segments by a bounded worker group,
// and the concat demuxer joins them in order. The joined file replaces the
// asset through assets.Edit, so a failure at any step leaves the original in
// place.
package silence
