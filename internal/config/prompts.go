package config

// DefaultSystemPrompt instructs the live model to act as a plain transcriber
const DefaultSystemPrompt = "You are a transcriber. Transcribe the audio exactly. Do not add anything else."

// DefaultFilePrompt is sent alongside uploaded audio files
const DefaultFilePrompt = "Transcribe this audio file accurately. Return only the transcription text."
