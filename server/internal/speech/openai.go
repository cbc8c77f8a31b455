package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAISynthesizer 通过 OpenAI TTS 合成音频，交给 AudioSink 播放
type OpenAISynthesizer struct {
	client       *openai.Client
	model        string
	defaultVoice string
	sink         AudioSink
}

func NewOpenAISynthesizer(client *openai.Client, model, defaultVoice string, sink AudioSink) *OpenAISynthesizer {
	if model == "" {
		model = string(openai.TTSModel1)
	}
	if defaultVoice == "" {
		defaultVoice = string(openai.VoiceAlloy)
	}
	return &OpenAISynthesizer{client: client, model: model, defaultVoice: defaultVoice, sink: sink}
}

func (s *OpenAISynthesizer) Speak(ctx context.Context, text, voice string) error {
	if voice == "" {
		voice = s.defaultVoice
	}
	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.model),
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return fmt.Errorf("create speech: %w", err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return fmt.Errorf("read speech: %w", err)
	}
	return s.sink.PlayAudio(ctx, audio, string(openai.SpeechResponseFormatMp3))
}

func (s *OpenAISynthesizer) Stop() error {
	return s.sink.StopAudio()
}

// OpenAITranscriber 通过 OpenAI 转写整段音频
type OpenAITranscriber struct {
	client   *openai.Client
	model    string
	language string
}

func NewOpenAITranscriber(client *openai.Client, model, language string) *OpenAITranscriber {
	if model == "" {
		model = openai.Whisper1
	}
	return &OpenAITranscriber{client: client, model: model, language: language}
}

// Transcribe format 为文件扩展名（webm/wav/mp3…）
func (t *OpenAITranscriber) Transcribe(ctx context.Context, audio []byte, format string) (string, error) {
	if format == "" {
		format = "webm"
	}
	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: "speech." + format,
		Reader:   bytes.NewReader(audio),
		Language: t.language,
	})
	if err != nil {
		return "", fmt.Errorf("create transcription: %w", err)
	}
	return resp.Text, nil
}

// Transcriber 整段转写
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, format string) (string, error)
}

// BufferedRecognizer 缓存上传的音频帧，停止时整体转写并回调一次最终结果
type BufferedRecognizer struct {
	mu       sync.Mutex
	tr       Transcriber
	format   string
	active   bool
	ctx      context.Context
	buf      bytes.Buffer
	onResult ResultFunc
	onError  func(error)
}

func NewBufferedRecognizer(tr Transcriber, format string, onError func(error)) *BufferedRecognizer {
	return &BufferedRecognizer{tr: tr, format: format, onError: onError}
}

func (r *BufferedRecognizer) Supported() bool {
	return r.tr != nil
}

func (r *BufferedRecognizer) Start(ctx context.Context, onResult ResultFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = true
	r.ctx = ctx
	r.onResult = onResult
	r.buf.Reset()
	return nil
}

// Write 追加一段音频；未开始听写时丢弃
func (r *BufferedRecognizer) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return len(p), nil
	}
	return r.buf.Write(p)
}

func (r *BufferedRecognizer) Stop() error {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return nil
	}
	r.active = false
	audio := append([]byte(nil), r.buf.Bytes()...)
	r.buf.Reset()
	ctx, cb := r.ctx, r.onResult
	r.mu.Unlock()

	if len(audio) == 0 || cb == nil {
		return nil
	}
	text, err := r.tr.Transcribe(ctx, audio, r.format)
	if err != nil {
		if r.onError != nil {
			r.onError(err)
		}
		return err
	}
	cb(text, true)
	return nil
}
