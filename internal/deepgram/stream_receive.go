package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"slices"

	"github.com/coder/websocket"
	"github.com/rbright/voxpage/internal/transcript"
)

type response struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// recvLoop continuously receives recognition responses until stream close/error.
func (s *Stream) recvLoop(ctx context.Context) {
	defer close(s.recvDone)
	defer close(s.results)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err == nil {
			if result, ok := s.recordResponse(msg); ok {
				select {
				case s.results <- result:
				case <-s.closed:
				}
			}
			continue
		}
		if isNormalClose(err) || ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		s.recvErr = err
		s.mu.Unlock()
		return
	}
}

func isNormalClose(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return errors.Is(err, context.Canceled)
}

// recordResponse merges one server message into stream state and returns
// the update to publish, if any.
func (s *Stream) recordResponse(msg []byte) (Result, bool) {
	if sink := s.debugSinkJSON; sink != nil {
		_, _ = sink.Write(append(append([]byte(nil), msg...), '\n'))
	}

	var resp response
	if err := json.Unmarshal(msg, &resp); err != nil {
		return Result{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch resp.Type {
	case "Results":
	case "UtteranceEnd":
		if !s.pendingFinal {
			return Result{}, false
		}
		s.pendingFinal = false
		return Result{Transcript: s.mergedLocked(), IsFinal: true}, true
	default:
		return Result{}, false
	}

	if len(resp.Channel.Alternatives) == 0 {
		return Result{}, false
	}
	text := transcript.Normalize(resp.Channel.Alternatives[0].Transcript)

	if resp.IsFinal {
		if text != "" {
			s.segments = append(s.segments, text)
			s.pendingFinal = true
		}
		s.lastInterim = ""
	} else if text != "" {
		s.lastInterim = text
		s.pendingFinal = true
	}

	merged := s.mergedLocked()
	if merged == "" {
		return Result{}, false
	}
	if resp.SpeechFinal {
		s.pendingFinal = false
		return Result{Transcript: merged, IsFinal: true}, true
	}
	if text == "" {
		return Result{}, false
	}
	return Result{Transcript: merged}, true
}

func (s *Stream) mergedLocked() string {
	return transcript.Join(s.segments, s.lastInterim)
}

// collectSegments copies committed and adds the trailing interim, if any.
func collectSegments(committed []string, lastInterim string) []string {
	segments := slices.Clone(committed)
	if interim := transcript.Normalize(lastInterim); interim != "" {
		segments = append(segments, interim)
	}
	return segments
}
