package scanning

// codeScanPrompt is the shared prompt used by all LLM providers for reading wrapper codes
const codeScanPrompt = `You are reading a promotional code printed on a product wrapper. The image has already been converted to black and white.

Transcribe every line of printed text you can see, top to bottom, left to right.

Rules:
- Use only the characters ` + CodeAlphabet + ` and spaces or newlines between words
- Write letters in uppercase
- Do not guess characters you cannot read; leave them out
- Do not add any explanation, labels or markdown, only the transcribed text`
