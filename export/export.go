// Package export serializes a finished sequence into a standard MIDI
// file and into a plot-ready note/time matrix for the notation preview.
// It consumes the sequence as-is and never mutates it.
package export

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/algoGuy/EasyMIDI/smf"
	"github.com/algoGuy/EasyMIDI/smfio"

	"pianogen/music"
)

const (
	// ticksPerQuarter is the SMF division.
	ticksPerQuarter = 960

	noteOnStatus  uint8 = 0x90
	noteOffStatus uint8 = 0x80
)

// event is a flattened note on/off at an absolute tick.
type event struct {
	tick     uint32
	status   uint8
	pitch    uint8
	velocity uint8
}

// WriteSMF serializes the sequence as a format-0 standard MIDI file.
func WriteSMF(w io.Writer, seq music.Sequence) error {
	if seq.Tempo <= 0 {
		return fmt.Errorf("cannot export sequence with tempo %f", seq.Tempo)
	}
	division, err := smf.NewDivision(ticksPerQuarter, smf.NOSMTPE)
	if err != nil {
		return err
	}
	out, err := smf.NewSMF(smf.Format0, *division)
	if err != nil {
		return err
	}
	track := &smf.Track{}
	if err = out.AddTrack(track); err != nil {
		return err
	}

	// Tempo meta event: microseconds per quarter note, 3 bytes.
	usPerQuarter := uint32(60000000.0 / seq.Tempo)
	tempoEvent, err := smf.NewMetaEvent(0, smf.MetaSetTempo, []byte{
		byte(usPerQuarter >> 16), byte(usPerQuarter >> 8), byte(usPerQuarter),
	})
	if err != nil {
		return err
	}
	if err = track.AddEvent(tempoEvent); err != nil {
		return err
	}

	ticksPerSecond := float64(ticksPerQuarter) * seq.Tempo / 60.0
	events := make([]event, 0, 2*len(seq.Notes))
	for _, n := range seq.Notes {
		events = append(events,
			event{
				tick:     uint32(n.Start*ticksPerSecond + 0.5),
				status:   noteOnStatus,
				pitch:    uint8(n.Pitch),
				velocity: uint8(n.Velocity),
			},
			event{
				tick:     uint32(n.End()*ticksPerSecond + 0.5),
				status:   noteOffStatus,
				pitch:    uint8(n.Pitch),
				velocity: 0,
			})
	}
	// Offs sort before ons at the same tick so repeated pitches do not
	// cancel each other.
	sort.Slice(events, func(i, j int) bool {
		if events[i].tick == events[j].tick {
			return events[i].status < events[j].status
		}
		return events[i].tick < events[j].tick
	})

	prevTick := uint32(0)
	for _, ev := range events {
		midiEvent, err := smf.NewMIDIEvent(ev.tick-prevTick, ev.status, 0, ev.pitch, ev.velocity)
		if err != nil {
			return err
		}
		if err = track.AddEvent(midiEvent); err != nil {
			return err
		}
		prevTick = ev.tick
	}

	endOfTrack, err := smf.NewMetaEvent(0, smf.MetaEndOfTrack, []byte{})
	if err != nil {
		return err
	}
	if err = track.AddEvent(endOfTrack); err != nil {
		return err
	}

	return smfio.Write(w, out)
}

// SMFBytes is WriteSMF into a byte slice, for download handlers.
func SMFBytes(seq music.Sequence) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteSMF(&buf, seq); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PlotPoint is one note in the notation preview.
type PlotPoint struct {
	Time     float64 `json:"time"`
	Pitch    int     `json:"pitch"`
	Duration float64 `json:"duration"`
}

// PlotMatrix flattens the sequence into (time, pitch, duration) rows in
// start-time order, ready for plotting.
func PlotMatrix(seq music.Sequence) []PlotPoint {
	points := make([]PlotPoint, 0, len(seq.Notes))
	for _, n := range seq.Notes.Sorted() {
		points = append(points, PlotPoint{Time: n.Start, Pitch: n.Pitch, Duration: n.Duration})
	}
	return points
}
