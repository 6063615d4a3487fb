// Package media assembles rendered scene clips and narration into the final
// video with ffmpeg's concat demuxer.
package media
