// Package mkv is the Matroska container backend. [Open] reads a file into a
// [media.Source]; [Create] returns a [media.Sink] that writes one.
//
// Only the subset of Matroska that capa produces and consumes is modelled:
// video and audio tracks, timecode tracks (track type 0x21 with codec
// D_TIMECODE), BlockGroups with explicit durations, and per-track tags for the
// extended language and the video/timecode association.
//
// Both directions stream. The writer emits clusters as soon as every track
// has passed them and patches the segment size at the end; the reader
// indexes clusters when a file is opened and decodes one at a time.
package mkv

import "github.com/at-wat/ebml-go"

const (
	// timecodeScale is the duration of one Matroska tick in nanoseconds.
	timecodeScale = 1000

	docType        = "matroska"
	docTypeVersion = 4
	muxingApp      = "capa"

	trackTypeVideo    = 1
	trackTypeAudio    = 2
	trackTypeMetadata = 0x21

	codecTimecode = "D_TIMECODE"
	codecPCMFloat = "A_PCM/FLOAT/IEEE"
	codecPCMInt   = "A_PCM/INT/LIT"

	// Tag names stored per track.
	tagLanguageIETF  = "LANGUAGE_IETF"
	tagTimecodeTrack = "TIMECODE_TRACK"

	// targetTypeTrack is the TargetTypeValue of track-level tags.
	targetTypeTrack = 30
)

// IDs of the elements the reader walks without decoding them whole.
const (
	idEBML    = 0x1A45DFA3
	idSegment = 0x18538067
	idInfo    = 0x1549A966
	idTracks  = 0x1654AE6B
	idTags    = 0x1254C367
	idCluster = 0x1F43B675
)

// Top-level wrappers, each marshalled or unmarshalled as one element.
type (
	headerElement struct {
		Header ebmlHeader `ebml:"EBML"`
	}
	segmentStart struct {
		Segment struct{} `ebml:"Segment,size=unknown"`
	}
	infoElement struct {
		Info info
	}
	tracksElement struct {
		Tracks tracks
	}
	tagsElement struct {
		Tags tags
	}
	clusterElement struct {
		Cluster cluster
	}
)

type ebmlHeader struct {
	EBMLVersion            uint64
	EBMLReadVersion        uint64
	EBMLMaxIDLength        uint64
	EBMLMaxSizeLength      uint64
	EBMLDocType            string
	EBMLDocTypeVersion     uint64
	EBMLDocTypeReadVersion uint64
}

// Duration stays last so the writer can patch it in place.
type info struct {
	TimecodeScale uint64
	SegmentUID    []byte `ebml:",omitempty"`
	MuxingApp     string
	WritingApp    string
	Duration      float64
}

type tracks struct {
	TrackEntry []trackEntry
}

type trackEntry struct {
	TrackNumber  uint64
	TrackUID     uint64
	TrackType    uint64
	Name         string `ebml:",omitempty"`
	Language     string `ebml:",omitempty"`
	CodecID      string
	CodecPrivate []byte `ebml:",omitempty"`
	Video        *video `ebml:",omitempty"`
	Audio        *audio `ebml:",omitempty"`
}

type video struct {
	PixelWidth  uint64
	PixelHeight uint64
}

type audio struct {
	SamplingFrequency float64
	Channels          uint64
	BitDepth          uint64 `ebml:",omitempty"`
}

type cluster struct {
	Timecode    uint64
	SimpleBlock []ebml.Block `ebml:",omitempty"`
	BlockGroup  []blockGroup `ebml:",omitempty"`
}

type blockGroup struct {
	Block          ebml.Block
	BlockDuration  uint64  `ebml:",omitempty"`
	ReferenceBlock []int64 `ebml:",omitempty"`
}

type tags struct {
	Tag []tag
}

type tag struct {
	Targets   targets
	SimpleTag []simpleTag
}

type targets struct {
	TargetTypeValue uint64 `ebml:",omitempty"`
	TagTrackUID     []uint64
}

type simpleTag struct {
	TagName   string
	TagString string `ebml:",omitempty"`
}
