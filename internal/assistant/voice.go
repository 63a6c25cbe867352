package assistant

import (
	"context"
	"errors"
	"strings"
)

// AnalyzeVoice transcribes a voice message and answers it like a chat turn.
func (s *Service) AnalyzeVoice(ctx context.Context, userID string, audio []byte, filename string) (VoiceResult, error) {
	if strings.TrimSpace(userID) == "" {
		return VoiceResult{}, invalidInput(CodeUserIDRequired)
	}
	if len(audio) == 0 {
		return VoiceResult{}, invalidInput(CodeAudioRequired)
	}

	user, allowed, err := s.admit(ctx, userID)
	if err != nil || !allowed {
		res, err := paywallOrErr(err)
		return VoiceResult{Result: res}, err
	}
	committed := false
	defer s.releaseUnless(ctx, user, &committed)

	if s.transcriber == nil {
		return VoiceResult{}, &UpstreamError{Code: CodeVoiceFailed, Err: errors.New("transcriber not configured")}
	}

	callCtx, cancel := s.callContext(ctx)
	transcript, err := s.transcriber.Transcribe(callCtx, audio, filename)
	cancel()
	if err != nil {
		s.logger.Errorw("Transcription failed", "user_id", user.UserID, "error", err)
		return VoiceResult{}, &UpstreamError{Code: CodeVoiceFailed, Err: err}
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return VoiceResult{}, &UpstreamError{Code: CodeVoiceFailed, Err: errors.New("empty transcript")}
	}

	reply, err := s.converse(ctx, user, transcript, chatTemperature, CodeVoiceFailed)
	if err != nil {
		return VoiceResult{}, err
	}

	if err := s.commit(ctx, user, nil, transcript, reply); err != nil {
		return VoiceResult{}, err
	}
	committed = true
	return VoiceResult{Result: Result{Message: reply}, Transcript: transcript}, nil
}
