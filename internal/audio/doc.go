// Package audio reads container metadata from input audio files.
//
// Probe runs ffprobe and decodes its JSON report into Metadata. When ffprobe
// is unavailable or fails, RIFF/WAVE inputs are still understood by reading
// the header directly, so duration-based intent classification keeps working
// on minimal hosts.
package audio
