package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"

	"care-talk/server/internal/speech"
)

// clientSynthesizer 让浏览器朗读（Web Speech API），等待 tts_completed 确认
type clientSynthesizer struct {
	g *Gateway
}

func (s *clientSynthesizer) Speak(ctx context.Context, text, voice string) error {
	return s.g.play(ctx, &ServerMessage{Type: EventTTSPlay, Text: text, Voice: voice}, nil)
}

func (s *clientSynthesizer) Stop() error {
	return s.g.send(&ServerMessage{Type: EventTTSStop})
}

// clientRecognizer 让浏览器开始/停止识别；识别结果经 asr_partial / asr_final 回来
type clientRecognizer struct {
	g *Gateway
}

func (r *clientRecognizer) Start(context.Context, speech.ResultFunc) error {
	return r.g.send(&ServerMessage{Type: EventSTTStart})
}

func (r *clientRecognizer) Stop() error {
	return r.g.send(&ServerMessage{Type: EventSTTStop})
}

func (r *clientRecognizer) Supported() bool {
	return true
}

// serverRecognizer 服务端转写：通知浏览器开始/停止上传音频帧
type serverRecognizer struct {
	*speech.BufferedRecognizer
	g *Gateway
}

func (r *serverRecognizer) Start(ctx context.Context, onResult speech.ResultFunc) error {
	if err := r.BufferedRecognizer.Start(ctx, onResult); err != nil {
		return err
	}
	return r.g.send(&ServerMessage{Type: EventSTTStart})
}

func (r *serverRecognizer) Stop() error {
	r.g.send(&ServerMessage{Type: EventSTTStop})
	return r.BufferedRecognizer.Stop()
}

// clientAudioSink 服务端合成的音频以二进制帧发给浏览器播放
type clientAudioSink struct {
	g *Gateway
}

func (s *clientAudioSink) PlayAudio(ctx context.Context, audio []byte, format string) error {
	return s.g.play(ctx, &ServerMessage{Type: EventTTSPlay, Format: format}, audio)
}

func (s *clientAudioSink) StopAudio() error {
	return s.g.send(&ServerMessage{Type: EventTTSStop})
}

// play 发送 tts_play（以及音频帧），阻塞到浏览器确认、ctx 取消或超时。
func (g *Gateway) play(ctx context.Context, msg *ServerMessage, audio []byte) error {
	id := uuid.NewString()
	done := make(chan struct{})
	g.playLock.Lock()
	g.playbacks[id] = done
	g.playLock.Unlock()
	defer func() {
		g.playLock.Lock()
		delete(g.playbacks, id)
		g.playLock.Unlock()
	}()

	msg.PlaybackID = id
	if err := g.waitTurns(ctx); err != nil {
		return err
	}
	if err := g.sendLive(ctx, msg); err != nil {
		return err
	}
	if audio != nil {
		if err := g.sendBinary(audio); err != nil {
			return err
		}
	}

	timer := time.NewTimer(g.config.AckTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-g.closeChan:
		return errClosed
	case <-timer.C:
		g.logger.Printf("[Gateway] ⚠️ playback %s not acknowledged within %v", id, g.config.AckTimeout)
		return nil
	}
}

func (g *Gateway) ackPlayback(id string) {
	g.playLock.Lock()
	defer g.playLock.Unlock()
	if done, ok := g.playbacks[id]; ok {
		close(done)
		delete(g.playbacks, id)
	}
}

var (
	_ speech.Synthesizer = (*clientSynthesizer)(nil)
	_ speech.Recognizer  = (*clientRecognizer)(nil)
	_ speech.Recognizer  = (*serverRecognizer)(nil)
	_ speech.AudioSink   = (*clientAudioSink)(nil)
)
