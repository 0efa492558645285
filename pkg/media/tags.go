package media

// Language tags written on audio tracks. They are read back by other tooling
// (editors, alignment scripts), so the exact values are part of the on-disk
// format.
const (
	// LanguageMaster and TagMaster mark the synthesized master mix.
	LanguageMaster = "qaa"
	TagMaster      = "qaa-x-capa-master"

	// LanguageSystem and TagSystem mark captured system audio.
	LanguageSystem = "qab"
	TagSystem      = "qab-x-capa-system"

	// LanguageMicrophone and TagMicrophone mark the microphone track.
	LanguageMicrophone = "qac"
	TagMicrophone      = "qac-x-capa-mic"
)

// Track titles used when rewriting containers.
const (
	TitleMaster     = "Master (Mixed)"
	TitleMicrophone = "Microphone"
	TitleSystem     = "System Audio"
	TitleTimecode   = "Timecode"
)
