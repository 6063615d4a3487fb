// Package elevenlabs synthesizes narration audio via the ElevenLabs
// text-to-speech API and lists the voices available to the configured key.
package elevenlabs
