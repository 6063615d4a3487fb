package gemini

// scenePlanPrompt instructs the model to split a narration script into
// renderable scenes. The schema matches pipeline.ScenePlan's JSON form.
const scenePlanPrompt = `You are a video director breaking a narration script into visual scenes.

Split the script into 2-6 scenes. For each scene provide:
- "scene_number": 1-based position in the video
- "description": a concrete visual description of what appears on screen
- "duration": length in seconds (5-15)
- "audio_text": the portion of the script narrated over this scene

Also provide "total_duration" (sum of scene durations) and "theme" (one or
two words describing the overall visual style).

Respond with JSON only, no prose, in this shape:
{"scenes":[{"scene_number":1,"description":"...","duration":10,"audio_text":"..."}],"total_duration":30,"theme":"..."}`

// refinePromptTemplate turns a scene description into a richer text-to-video
// prompt. The model must answer with the prompt text alone.
const refinePromptTemplate = `You write prompts for a text-to-video model.

Rewrite the scene description below into one vivid, specific video prompt.
Mention camera movement, lighting, and mood. Keep it under 60 words. The
overall video theme is %q. Respond with the prompt text only, no quotes and
no preamble.

Scene description: %s`
