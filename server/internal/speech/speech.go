package speech

import (
	"context"
	"errors"
)

// Mode 语音协调器的互斥状态
type Mode int

const (
	ModeIdle Mode = iota
	ModeSpeaking
	ModeListening
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeSpeaking:
		return "speaking"
	case ModeListening:
		return "listening"
	default:
		return "unknown"
	}
}

var (
	// ErrListening 正在听写时丢弃朗读请求
	ErrListening = errors.New("speech: recognizer is listening")
	// ErrInterrupted 朗读被新的朗读或听写打断
	ErrInterrupted = errors.New("speech: utterance interrupted")
	// ErrUnsupported 没有可用的合成器或识别器
	ErrUnsupported = errors.New("speech: not supported")
)

// Synthesizer 文本转语音。Speak 阻塞到播放结束或 ctx 取消。
type Synthesizer interface {
	Speak(ctx context.Context, text, voice string) error
	Stop() error
}

// ResultFunc 识别结果回调；final=false 为中间结果
type ResultFunc func(text string, final bool)

// Recognizer 语音转文本
type Recognizer interface {
	Start(ctx context.Context, onResult ResultFunc) error
	Stop() error
	Supported() bool
}

// AudioSink 服务端合成的音频交给前端播放。PlayAudio 阻塞到播放结束。
type AudioSink interface {
	PlayAudio(ctx context.Context, audio []byte, format string) error
	StopAudio() error
}
